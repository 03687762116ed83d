package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderNilStore       = errors.New("order: nil store")
	ErrOrderNilVenue       = errors.New("order: nil venue client")
	ErrOrderInvalidRequest = errors.New("order: invalid request")
	ErrOrderUnknownSide    = errors.New("order: unknown side")
)

var (
	ErrRiskNilFreezeStore   = errors.New("risk: nil freeze store")
	ErrCycleNilCollaborator = errors.New("cycle: nil collaborator")
)
