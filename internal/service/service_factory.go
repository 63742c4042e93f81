package service

import (
	"directory-service/internal/config"
	"directory-service/internal/hashing"
	"directory-service/internal/model"
)

// ServiceFactory creates and caches service instances.
type ServiceFactory struct {
	repo    model.StudentRepository
	grants  model.GrantStore
	locker  model.RecordLocker
	hasher  *hashing.Hasher
	mailer  model.Mailer
	indexer model.SearchIndexer
	auditor model.AuditSink
	config  *config.Config

	directoryService *DirectoryService
}

func NewServiceFactory(
	repo model.StudentRepository,
	grants model.GrantStore,
	locker model.RecordLocker,
	hasher *hashing.Hasher,
	mailer model.Mailer,
	indexer model.SearchIndexer,
	auditor model.AuditSink,
	cfg *config.Config,
) *ServiceFactory {
	return &ServiceFactory{
		repo:    repo,
		grants:  grants,
		locker:  locker,
		hasher:  hasher,
		mailer:  mailer,
		indexer: indexer,
		auditor: auditor,
		config:  cfg,
	}
}

// DirectoryService returns the directory service instance (singleton).
func (f *ServiceFactory) DirectoryService() *DirectoryService {
	if f.directoryService == nil {
		f.directoryService = NewDirectoryService(
			f.repo,
			f.grants,
			f.locker,
			f.hasher,
			f.mailer,
			f.indexer,
			f.auditor,
			f.config.OTP,
		)
	}
	return f.directoryService
}
