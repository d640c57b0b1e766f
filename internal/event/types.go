package event

import "github.com/quorumlabs/quorum/pkg/types"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info *types.Session `json:"info"`
}

// SessionUpdatedData is the data for session.updated events.
type SessionUpdatedData struct {
	Info *types.Session `json:"info"`
}

// TurnAcceptedData is the data for turn.accepted events.
type TurnAcceptedData struct {
	SessionID string      `json:"sessionID"`
	Turn      *types.Turn `json:"turn"`
}

// SessionSynthesizedData is the data for session.synthesized events.
type SessionSynthesizedData struct {
	SessionID   string `json:"sessionID"`
	ArchivePath string `json:"archivePath"`
}

// SessionResetData is the data for session.reset events.
type SessionResetData struct {
	SessionID   string `json:"sessionID"`
	ArchivePath string `json:"archivePath,omitempty"`
}

// MonitorCloseData is the data for monitor.close events.
type MonitorCloseData struct {
	SessionID string `json:"sessionID"`
}
