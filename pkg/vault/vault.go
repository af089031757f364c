package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ecoachlabs/ideamind-sub006/pkg/databases"
	"github.com/ecoachlabs/ideamind-sub006/pkg/embedders"
	"github.com/ecoachlabs/ideamind-sub006/pkg/events"
	"github.com/ecoachlabs/ideamind-sub006/pkg/observability"
)

// searchTopK bounds how many vector-store neighbors feed the semantic
// scoring bonus in buildContextPack.
const searchTopK = 50

// framesCollection is the vector-store collection frames are embedded into.
const framesCollection = "vault_frames"

// Vault is the Memory Vault: the single entry point ingestion, guards,
// context packing, admin operations and pub/sub dispatch go through.
type Vault struct {
	Store  *Store
	Admin  *Admin
	Broker *Broker

	embedder embedders.EmbedderProvider
	vectors  databases.DatabaseProvider
	signer   *Signer
	logger   *slog.Logger
	obs      *observability.Manager

	version string
}

// WithObservability attaches a Manager used to trace and instrument
// every Context Pack Builder query. Nil is safe and disables both.
func (v *Vault) WithObservability(obs *observability.Manager) *Vault {
	v.obs = obs
	return v
}

// Config bundles the collaborators a Vault needs. Vectors and Embedder
// are optional: without them the vault still stores and serves frames,
// it simply can't do embedding-based similarity search.
type Config struct {
	Store    *Store
	Embedder embedders.EmbedderProvider
	Vectors  databases.DatabaseProvider
	Signer   *Signer
	Logger   *slog.Logger
	Version  string
}

// New wires a Vault from its collaborators.
func New(cfg Config) (*Vault, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("vault: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "v1"
	}

	broker := NewBroker()
	return &Vault{
		Store:    cfg.Store,
		Admin:    NewAdmin(cfg.Store, broker, logger),
		Broker:   broker,
		embedder: cfg.Embedder,
		vectors:  cfg.Vectors,
		signer:   cfg.Signer,
		logger:   logger,
		version:  version,
	}, nil
}

// IngestKnowledge refines raw knowledge through the Refinery (Fission,
// Fusion, Validate) and persists every frame that survives, publishing
// memory.delta.created for each one.
func (v *Vault) IngestKnowledge(ctx context.Context, runID string, raws []RawKnowledge) ([]Frame, []error) {
	existing, err := v.Store.ListFrames(ctx, "")
	if err != nil {
		return nil, []error{fmt.Errorf("vault: ingest knowledge: %w", err)}
	}

	accepted, refineErrs := ingestAndRefine(raws, existing)

	now := time.Now().UTC()
	var stored []Frame
	var errs []error
	for _, f := range accepted {
		f.ID = "frame_" + uuid.NewString()
		f.Version = v.version
		f.CreatedAt, f.UpdatedAt = now, now
		f.Provenance.When = now

		if v.signer != nil {
			sig, signErr := v.signer.Sign(f.ID, f.Scope, f.Theme, f.Summary, f.Claims, f.Citations, f.Version)
			if signErr != nil {
				errs = append(errs, signErr)
				continue
			}
			f.Provenance.Signature = sig
		}

		if err := v.Store.UpsertFrame(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("vault: persist frame: %w", err))
			continue
		}
		v.indexFrame(ctx, f)

		stored = append(stored, f)
		v.Broker.PublishDelta(events.MemoryDeltaCreated, runID, f)
	}
	return stored, append(refineErrs, errs...)
}

// indexFrame embeds the frame's summary and upserts it into the vector
// store, when both an embedder and vector store are configured. Index
// failures are logged but never fail the ingest: the frame is still
// durably stored and queryable by the Context Pack Builder's scan.
func (v *Vault) indexFrame(ctx context.Context, f Frame) {
	if v.embedder == nil || v.vectors == nil {
		return
	}
	vec, err := v.embedder.Embed(f.Summary)
	if err != nil {
		v.logger.Warn("vault: embed frame failed", "frame_id", f.ID, "error", err)
		return
	}
	meta := map[string]interface{}{"content": f.Summary, "theme": f.Theme, "scope": string(f.Scope)}
	if err := v.vectors.Upsert(ctx, framesCollection, f.ID, vec, meta); err != nil {
		v.logger.Warn("vault: index frame failed", "frame_id", f.ID, "error", err)
	}
}

// IngestQABinding records a validated Q&A pair.
func (v *Vault) IngestQABinding(ctx context.Context, qa QABinding) error {
	if qa.ID == "" {
		qa.ID = "qa_" + uuid.NewString()
	}
	if qa.CreatedAt.IsZero() {
		qa.CreatedAt = time.Now().UTC()
	}
	return v.Store.InsertQABinding(ctx, qa)
}

// IngestArtifact records a produced artifact and publishes artifact.produced.
func (v *Vault) IngestArtifact(ctx context.Context, runID string, a Artifact) error {
	if a.ID == "" {
		a.ID = "artifact_" + uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if err := v.Store.InsertArtifact(ctx, a); err != nil {
		return err
	}
	payload := events.ArtifactProducedPayload{ArtifactType: a.Type, URI: a.URI, SHA256: a.SHA256, Phase: a.Phase}
	v.Broker.Publish(string(events.ArtifactProduced), events.New(events.ArtifactProduced, runID, payload))
	return nil
}

// IngestSignal records a telemetry signal.
func (v *Vault) IngestSignal(ctx context.Context, sig Signal) error {
	if sig.ID == "" {
		sig.ID = "signal_" + uuid.NewString()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	return v.Store.InsertSignal(ctx, sig)
}

// Query runs the Context Pack Builder against every stored frame and
// artifact matching q. When q.Text and an embedder/vector store are
// available, candidate frames surfaced by the vector store's
// similarity search are boosted in ranking (spec §4.8 step 1);
// otherwise candidates come from the SQL scan alone.
func (v *Vault) Query(ctx context.Context, q MemoryQuery) (ContextPack, error) {
	tracer := v.obs.Tracer()
	ctx, span := tracer.StartVaultQuery(ctx, string(q.Scope), q.ThemePrefix)
	defer span.End()

	start := time.Now()

	frames, err := v.Store.ListFrames(ctx, q.Scope)
	if err != nil {
		tracer.RecordError(span, err)
		return ContextPack{}, fmt.Errorf("vault: query: %w", err)
	}
	artifacts, err := v.Store.ListArtifacts(ctx, "")
	if err != nil {
		tracer.RecordError(span, err)
		return ContextPack{}, fmt.Errorf("vault: query: %w", err)
	}

	semantic := v.searchSemanticCandidates(ctx, q)

	pack := buildContextPack(frames, artifacts, q, time.Now().UTC(), semantic)

	v.obs.Metrics().RecordVaultQuery(string(q.Scope), time.Since(start))
	v.obs.Metrics().RecordGroundingScore(string(q.Scope), pack.FreshnessScore)
	tokens, _ := pack.Metadata["tokens_spent"].(int)
	v.obs.Metrics().RecordContextPack(string(q.Scope), tokens, len(pack.Frames))
	tracer.AddVaultResult(span, len(pack.Frames), tokens)

	return pack, nil
}

// searchSemanticCandidates embeds q.Text and runs it against the vector
// store, returning a frame-ID -> similarity-score map for the scorer.
// Returns nil when semantic search isn't configured or q.Text is empty;
// search failures are logged, never fatal to the query.
func (v *Vault) searchSemanticCandidates(ctx context.Context, q MemoryQuery) map[string]float32 {
	if v.embedder == nil || v.vectors == nil || q.Text == "" {
		return nil
	}
	vec, err := v.embedder.Embed(q.Text)
	if err != nil {
		v.logger.Warn("vault: embed query failed", "error", err)
		return nil
	}
	results, err := v.vectors.Search(ctx, framesCollection, vec, searchTopK)
	if err != nil {
		v.logger.Warn("vault: semantic search failed", "error", err)
		return nil
	}
	semantic := make(map[string]float32, len(results))
	for _, r := range results {
		semantic[r.ID] = r.Score
	}
	return semantic
}

// Gate evaluates a GateSpec against the stored frame set.
func (v *Vault) Gate(ctx context.Context, spec GateSpec) (GateResult, error) {
	frames, err := v.Store.ListFrames(ctx, spec.Scope)
	if err != nil {
		return GateResult{}, fmt.Errorf("vault: gate: %w", err)
	}
	return EvaluateGate(frames, spec, time.Now().UTC()), nil
}
