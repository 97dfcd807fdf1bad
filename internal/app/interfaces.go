package app

import (
	"context"

	"packshare/internal/manager"
	"packshare/pkg/types"
)

// ShareManager is the part of the transfer manager the share flow drives
type ShareManager interface {
	StartSharing(ctx context.Context, req manager.ShareRequest) (*types.ShareInfo, error)
	GetShareSession(code string) (types.ShareSession, error)
	AcceptAnswer(ctx context.Context, code, answer string) error
	StopSharing(code string)
}

// ReceiveManager is the part of the transfer manager the receive flow drives
type ReceiveManager interface {
	ValidateConnectionString(connStr string) error
	StartReceiving(ctx context.Context, connStr, outputDir string) (*manager.ReceiveTicket, error)
	StartReceivingCode(ctx context.Context, code, outputDir string) (*manager.ReceiveTicket, error)
	GetTransferProgress(code string) (types.TransferProgress, error)
	ClearDownload(code string)
}
