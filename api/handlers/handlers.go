package handlers

import (
	"github.com/feichai0017/study-ingestor/internal/access"
	"github.com/feichai0017/study-ingestor/internal/utils/validator"
	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/queue"
	"github.com/feichai0017/study-ingestor/pkg/storage"
)

type Handlers struct {
	Document *DocumentHandler
	Health   *HealthHandler
}

func NewHandlers(
	service IngestService,
	auth access.Authorizer,
	v *validator.DocumentValidator,
	archive storage.Storage,
	q queue.Queue,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(service, auth, v, archive, q, logger),
		Health:   NewHealthHandler(service),
	}
}
