package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/park285/Cheese-ARBoard/internal/board"
)

// Asset is a resolved visual representation of a piece.
type Asset struct {
	Handle Handle
	Model  string
}

// AssetLoader resolves the visual asset for a piece. Load may block.
type AssetLoader interface {
	Load(ctx context.Context, p board.Piece) (Asset, error)
}

// ModelCatalog resolves one model file per role under dir: <dir>/<role>/scene.gltf.
type ModelCatalog struct {
	dir    string
	verify bool
}

// NewModelCatalog builds a catalog rooted at dir. With verify set, Load fails
// when the model file is missing on disk.
func NewModelCatalog(dir string, verify bool) *ModelCatalog {
	if dir == "" {
		dir = "models"
	}
	return &ModelCatalog{dir: dir, verify: verify}
}

// ModelPath returns the model file for a role, slash separated.
func (c *ModelCatalog) ModelPath(role board.Role) string {
	return filepath.ToSlash(filepath.Join(c.dir, string(role), "scene.gltf"))
}

func (c *ModelCatalog) Load(ctx context.Context, p board.Piece) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	path := c.ModelPath(p.Role)
	if c.verify {
		if _, err := os.Stat(filepath.FromSlash(path)); err != nil {
			return Asset{}, fmt.Errorf("load model %s: %w", p.Role, err)
		}
	}
	return Asset{Handle: Handle(uuid.NewString()), Model: path}, nil
}
