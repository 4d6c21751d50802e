package fetch

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/config"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/ingesterr"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/model"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/queue"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/soap"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/vault"
)

// CredentialSource resolves plaintext credentials for a facility; the
// concrete implementation is internal/vault.Vault, kept behind an
// interface here so the coordinator's tests can fake it without real
// AES-GCM ciphertext.
type CredentialSource interface {
	Decrypt(facilityCode string) (vault.FacilityCredentials, error)
}

// FacilityLister provides the set of active facilities to poll.
type FacilityLister interface {
	ActiveFacilities() ([]model.FacilityConfig, error)
}

// FileRegistry remembers fileId -> facilityCode for the acker to look
// up later (spec.md §4.3 step 4), bounded to avoid unbounded growth.
type FileRegistry struct {
	mu    sync.Mutex
	limit int
	order []string
	codes map[string]string
}

// NewFileRegistry builds a registry holding at most limit entries,
// evicting the oldest when full.
func NewFileRegistry(limit int) *FileRegistry {
	return &FileRegistry{limit: limit, codes: make(map[string]string)}
}

// Remember records fileID -> facilityCode.
func (r *FileRegistry) Remember(fileID, facilityCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.codes[fileID]; !exists {
		r.order = append(r.order, fileID)
	}
	r.codes[fileID] = facilityCode
	for len(r.order) > r.limit {
		evict := r.order[0]
		r.order = r.order[1:]
		delete(r.codes, evict)
	}
}

// Lookup returns the facility code remembered for fileID, if any.
func (r *FileRegistry) Lookup(fileID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.codes[fileID]
	return code, ok
}

// Forget removes fileID from the registry (called after a successful ack).
func (r *FileRegistry) Forget(fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.codes, fileID)
}

// DHPOCoordinator polls each active facility on its own cadence,
// downloading candidate files and offering them to the shared queue.
// Per spec.md §5, per-facility polling is serialized: one coordinator
// goroutine per facility, and downloads within a poll run serially.
type DHPOCoordinator struct {
	gateway    *soap.Gateway
	creds      CredentialSource
	facilities FacilityLister
	q          *queue.Queue
	gate       *queue.BackpressureGate
	registry   *FileRegistry
	cfg        config.DHPOConfig
	soapVer    soap.Version
	log        *zap.Logger
	stageDir   string
}

// NewDHPOCoordinator builds a coordinator. stageDir receives payloads
// that exceed StageToDiskThresholdMB, written with fsync then an atomic
// rename. pauseHigh/resumeLow are the queue-fill-ratio hysteresis
// watermarks from spec.md §5, shared across every facility's poll loop
// since they all feed the same queue; pauseHigh <= 0 disables the gate.
func NewDHPOCoordinator(gw *soap.Gateway, creds CredentialSource, facilities FacilityLister, q *queue.Queue, registry *FileRegistry, cfg config.DHPOConfig, soapVer soap.Version, stageDir string, pauseHigh, resumeLow float64, log *zap.Logger) *DHPOCoordinator {
	return &DHPOCoordinator{
		gateway: gw, creds: creds, facilities: facilities, q: q, gate: queue.NewBackpressureGate(q, pauseHigh, resumeLow), registry: registry,
		cfg: cfg, soapVer: soapVer, stageDir: stageDir, log: log,
	}
}

// Run polls every active facility on its own ticker with up to ±2m
// jitter until ctx is cancelled. Each facility gets its own goroutine so
// a slow endpoint never delays another facility's cadence.
func (c *DHPOCoordinator) Run(ctx context.Context) error {
	facilities, err := c.facilities.ActiveFacilities()
	if err != nil {
		return fmt.Errorf("list active facilities: %w", err)
	}

	var wg sync.WaitGroup
	for _, facility := range facilities {
		wg.Add(1)
		go func(fc model.FacilityConfig) {
			defer wg.Done()
			c.pollLoop(ctx, fc)
		}(facility)
	}
	wg.Wait()
	return nil
}

func (c *DHPOCoordinator) pollLoop(ctx context.Context, facility model.FacilityConfig) {
	jitter := time.Duration(rand.Int63n(int64(c.cfg.PollJitter)))
	if rand.Intn(2) == 0 {
		jitter = -jitter
	}
	interval := c.cfg.PollInterval + jitter
	if interval <= 0 {
		interval = c.cfg.PollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.pollOnce(ctx, facility) // first poll is immediate; later polls wait one interval each
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx, facility)
		}
	}
}

func (c *DHPOCoordinator) pollOnce(ctx context.Context, facility model.FacilityConfig) {
	log := c.log.With(zap.String("facility", facility.FacilityCode))

	creds, err := c.creds.Decrypt(facility.FacilityCode)
	if err != nil {
		if ingesterr.Is(err, ingesterr.KindCredential) {
			log.Error("credential decrypt failed, skipping facility this tick", zap.Error(err))
			return
		}
		log.Error("unexpected credential error", zap.Error(err))
		return
	}

	rows, err := c.listCandidates(ctx, facility, creds)
	if err != nil {
		log.Error("list candidate files failed", zap.Error(err))
		return
	}

	for _, row := range rows {
		if row.IsDownloaded != nil && *row.IsDownloaded {
			continue
		}
		if c.gate.Paused() {
			log.Warn("queue above pause watermark, deferring remaining candidates to next tick")
			return
		}
		if !c.downloadAndOffer(ctx, facility, creds, row, log) {
			log.Warn("pausing facility downloads for remainder of tick", zap.String("file_id", row.FileID))
			return
		}
	}
}

func (c *DHPOCoordinator) listCandidates(ctx context.Context, facility model.FacilityConfig, creds vault.FacilityCredentials) ([]soap.FileRow, error) {
	if c.cfg.UseGetNewTransactions {
		envXML := soap.RenderGetNewTransactions(creds.Login, creds.Password)
		result, err := c.call(ctx, facility, soap.OpGetNewTransactions, envXML)
		if err != nil {
			return nil, err
		}
		return soap.ParseFileList(result.RawBody)
	}

	params := soap.SearchParams{
		Login: creds.Login, Password: creds.Password,
		DateFrom: time.Now().AddDate(0, 0, -c.cfg.SearchDaysBack), DateTo: time.Now(),
	}
	envXML := soap.RenderSearchTransactions(params)
	result, err := c.call(ctx, facility, soap.OpSearchTransactions, envXML)
	if err != nil {
		return nil, err
	}
	return soap.ParseFileList(result.RawBody)
}

func (c *DHPOCoordinator) downloadAndOffer(ctx context.Context, facility model.FacilityConfig, creds vault.FacilityCredentials, row soap.FileRow, log *zap.Logger) bool {
	envXML := soap.RenderDownloadTransactionFile(creds.Login, creds.Password, row.FileID)
	result, err := c.call(ctx, facility, soap.OpDownloadTransactionFile, envXML)
	if err != nil {
		log.Error("download transaction file failed", zap.String("file_id", row.FileID), zap.Error(err))
		return true // not a back-pressure condition; keep polling other files
	}

	download, err := soap.ParseDownloadResponse(result.RawBody)
	if err != nil || len(download.Bytes) == 0 {
		log.Error("empty or unparseable download payload", zap.String("file_id", row.FileID), zap.Error(err))
		return true
	}

	payload := download.Bytes
	sourcePath := ""
	if int64(len(payload)) >= c.cfg.StageToDiskThresholdMB*1024*1024 {
		path, err := c.stageToDisk(row.FileID, payload)
		if err != nil {
			log.Error("stage to disk failed", zap.String("file_id", row.FileID), zap.Error(err))
			return true
		}
		sourcePath = path
	}

	c.registry.Remember(row.FileID, facility.FacilityCode)

	item := queue.WorkItem{
		FileID:        row.FileID,
		Bytes:         payload,
		SourcePath:    sourcePath,
		Source:        "soap",
		CorrelationID: uuid.NewString(),
	}
	return c.q.Offer(item, 250*time.Millisecond)
}

func (c *DHPOCoordinator) stageToDisk(fileID string, payload []byte) (string, error) {
	tmp, err := os.CreateTemp(c.stageDir, fileID+".*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	finalPath := filepath.Join(c.stageDir, fileID)
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", err
	}
	return finalPath, nil
}

func (c *DHPOCoordinator) call(ctx context.Context, facility model.FacilityConfig, op soap.Operation, envelopeOperationXML []byte) (soap.Result, error) {
	envelope, err := soap.BuildEnvelope(c.soapVer, envelopeOperationXML)
	if err != nil {
		return soap.Result{}, err
	}
	return c.gateway.Call(ctx, facility.EndpointURL, c.soapVer, op, string(op), envelope)
}
