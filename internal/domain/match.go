package domain

import "time"

// MatchRecord is a finished game as seen by one board session.
type MatchRecord struct {
	ID           int64
	SessionUUID  string
	GameID       int
	Mode         string
	InitialFEN   string
	FinalFEN     string
	Result       string // white | black | draw
	ResultMethod string // checkmate | stalemate
	MovesUCI     []string
	MovesSAN     []string
	ECO          string
	Opening      string
	PGN          string
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
}
