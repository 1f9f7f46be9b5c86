package biz

import (
	"context"

	"github.com/tgwatch/tg-session-watch/internal/biz/repo"
	"github.com/tgwatch/tg-session-watch/internal/biz/usecase"
)

// Usecases contains all usecases
type Usecases struct {
	Acquisition *usecase.AcquisitionUsecase
	Monitor     *usecase.MonitorUsecase
}

// Deps are the repositories the usecases run on
type Deps struct {
	Credentials repo.CredentialRepo
	Filters     repo.FilterRepo
	Transport   repo.Transport
	Sink        repo.DeliverySink
}

// NewUsecases wires the usecases; deleting a credential detaches its monitor
func NewUsecases(d Deps, acqCfg usecase.AcquisitionConfig, monCfg usecase.MonitorConfig) *Usecases {
	acq := usecase.NewAcquisitionUsecase(d.Credentials, d.Transport, acqCfg)
	mon := usecase.NewMonitorUsecase(d.Credentials, d.Filters, d.Transport, d.Sink, monCfg)
	acq.OnCredentialDeleted(mon)
	return &Usecases{Acquisition: acq, Monitor: mon}
}

// Close detaches every monitor and drops pending logins
func (u *Usecases) Close(ctx context.Context) {
	u.Monitor.Close()
	u.Acquisition.Close(ctx)
}
