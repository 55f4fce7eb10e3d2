package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Kenji11/aivideo-sub002/chunking"
	"github.com/Kenji11/aivideo-sub002/models"
	"github.com/Kenji11/aivideo-sub002/pipeline"
	"github.com/Kenji11/aivideo-sub002/selection"
	"github.com/Kenji11/aivideo-sub002/videospec"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRunNotFound    = pipeline.ErrRunNotFound
	ErrDuplicateAsset = errors.New("asset already registered")
)

// Postgres is the gorm-backed store.
type Postgres struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewPostgres(db *gorm.DB, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{db: db, logger: logger}
}

// Migrate creates or updates every table.
func (p *Postgres) Migrate() error {
	return p.db.AutoMigrate(models.All()...)
}

func (p *Postgres) CreateRun(ctx context.Context, run *pipeline.Run) error {
	id, err := uuid.Parse(run.ID)
	if err != nil {
		return err
	}
	row := models.PipelineRun{
		ID:            id,
		UserID:        run.UserID,
		Prompt:        run.Prompt,
		TotalDuration: run.TotalDuration,
		BackendID:     run.BackendID,
		Stage:         string(run.Stage),
		Status:        string(run.Status),
		Progress:      run.Progress,
	}
	if run.Plan != nil {
		plan, err := json.Marshal(run.Plan)
		if err != nil {
			return err
		}
		row.Plan = datatypes.JSON(plan)
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return p.logError("create run", err, zap.String("run_id", run.ID))
	}
	run.CreatedAt, run.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (pipeline.Run, error) {
	runID, err := uuid.Parse(id)
	if err != nil {
		return pipeline.Run{}, ErrRunNotFound
	}
	var row models.PipelineRun
	if err := p.db.WithContext(ctx).Where("id = ?", runID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pipeline.Run{}, ErrRunNotFound
		}
		return pipeline.Run{}, p.logError("get run", err, zap.String("run_id", id))
	}
	run, err := runFromModel(row)
	if err != nil {
		return pipeline.Run{}, err
	}
	if run.Costs, err = p.costs(ctx, runID); err != nil {
		return pipeline.Run{}, err
	}
	return run, nil
}

func (p *Postgres) costs(ctx context.Context, runID uuid.UUID) (map[pipeline.Stage]float64, error) {
	var sums []struct {
		Stage string
		Total float64
	}
	err := p.db.WithContext(ctx).Model(&models.CostEntry{}).
		Select("stage, SUM(amount) AS total").
		Where("run_id = ?", runID).
		Group("stage").
		Scan(&sums).Error
	if err != nil {
		return nil, p.logError("sum costs", err, zap.String("run_id", runID.String()))
	}
	out := make(map[pipeline.Stage]float64, len(sums))
	for _, s := range sums {
		out[pipeline.Stage(s.Stage)] = s.Total
	}
	return out, nil
}

func (p *Postgres) SaveRun(ctx context.Context, run pipeline.Run) error {
	updates := map[string]interface{}{
		"stage":       string(run.Stage),
		"status":      string(run.Status),
		"progress":    run.Progress,
		"output_url":  run.OutputURL,
		"error_kind":  "",
		"error_stage": "",
		"error_chunk": nil,
		"error":       "",
		"updated_at":  time.Now(),
	}
	if run.Error != nil {
		updates["error_kind"] = string(run.Error.Kind)
		updates["error_stage"] = string(run.Error.Stage)
		updates["error_chunk"] = run.Error.ChunkIndex
		updates["error"] = run.Error.Message
	}
	res := p.db.WithContext(ctx).Model(&models.PipelineRun{}).Where("id = ?", run.ID).Updates(updates)
	if res.Error != nil {
		return p.logError("save run", res.Error, zap.String("run_id", run.ID))
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// UpdateProgress only ever moves progress forward.
func (p *Postgres) UpdateProgress(ctx context.Context, id string, progress int) error {
	err := p.db.WithContext(ctx).Model(&models.PipelineRun{}).
		Where("id = ? AND progress < ?", id, progress).
		Updates(map[string]interface{}{"progress": progress, "updated_at": time.Now()}).Error
	if err != nil {
		return p.logError("update progress", err, zap.String("run_id", id))
	}
	return nil
}

func (p *Postgres) RequestCancel(ctx context.Context, id string) error {
	return p.setCancel(ctx, id, true)
}

func (p *Postgres) ClearCancel(ctx context.Context, id string) error {
	return p.setCancel(ctx, id, false)
}

func (p *Postgres) setCancel(ctx context.Context, id string, requested bool) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrRunNotFound
	}
	res := p.db.WithContext(ctx).Model(&models.PipelineRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"cancel_requested": requested, "updated_at": time.Now()})
	if res.Error != nil {
		return p.logError("set cancel flag", res.Error, zap.String("run_id", id))
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (p *Postgres) ListStalledRuns(ctx context.Context, updatedBefore time.Time) ([]pipeline.Run, error) {
	var rows []models.PipelineRun
	err := p.db.WithContext(ctx).
		Where("status IN ?", []string{string(pipeline.StatusQueued), string(pipeline.StatusRunning)}).
		Where("updated_at < ?", updatedBefore).
		Order("updated_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, p.logError("list stalled runs", err)
	}
	out := make([]pipeline.Run, 0, len(rows))
	for _, row := range rows {
		run, err := runFromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (p *Postgres) SaveStageResult(ctx context.Context, runID string, stage pipeline.Stage, payload []byte) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return ErrRunNotFound
	}
	row := models.StageResult{RunID: id, Stage: string(stage), Payload: datatypes.JSON(payload)}
	err = p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "stage"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return p.logError("save stage result", err, zap.String("run_id", runID), zap.String("stage", string(stage)))
	}
	return nil
}

func (p *Postgres) LoadStageResult(ctx context.Context, runID string, stage pipeline.Stage) ([]byte, bool, error) {
	var row models.StageResult
	err := p.db.WithContext(ctx).Where("run_id = ? AND stage = ?", runID, string(stage)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, p.logError("load stage result", err, zap.String("run_id", runID), zap.String("stage", string(stage)))
	}
	return []byte(row.Payload), true, nil
}

func (p *Postgres) SaveChunk(ctx context.Context, runID string, c chunking.Chunk) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return ErrRunNotFound
	}
	row := models.RunChunk{
		RunID:        id,
		ChunkIndex:   c.Index,
		BeatID:       c.BeatID,
		BeatIndex:    c.BeatIndex,
		Ordinal:      c.Ordinal,
		StartOffset:  c.StartOffset,
		Duration:     c.Duration,
		SourceImage:  c.SourceImage,
		OutputURL:    c.OutputURL,
		LastFrameURL: c.LastFrameURL,
		State:        string(c.State),
	}
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "run_id"}, {Name: "chunk_index"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"beat_id", "beat_index", "ordinal", "start_offset", "duration",
				"source_image", "output_url", "last_frame_url", "state", "updated_at",
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		// A chunk moving is run activity: the stalled-run sweep must not
		// see a long generate stage as dead.
		return tx.Model(&models.PipelineRun{}).Where("id = ?", id).Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return p.logError("save chunk", err, zap.String("run_id", runID), zap.Int("chunk", c.Index))
	}
	return nil
}

func (p *Postgres) ListChunks(ctx context.Context, runID string) ([]chunking.Chunk, error) {
	var rows []models.RunChunk
	if err := p.db.WithContext(ctx).Where("run_id = ?", runID).Order("chunk_index ASC").Find(&rows).Error; err != nil {
		return nil, p.logError("list chunks", err, zap.String("run_id", runID))
	}
	out := make([]chunking.Chunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, chunking.Chunk{
			Index:        r.ChunkIndex,
			BeatID:       r.BeatID,
			BeatIndex:    r.BeatIndex,
			Ordinal:      r.Ordinal,
			StartOffset:  r.StartOffset,
			Duration:     r.Duration,
			SourceImage:  r.SourceImage,
			OutputURL:    r.OutputURL,
			LastFrameURL: r.LastFrameURL,
			State:        chunking.State(r.State),
		})
	}
	return out, nil
}

func (p *Postgres) AddCost(ctx context.Context, runID string, stage pipeline.Stage, item string, amount float64) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return ErrRunNotFound
	}
	row := models.CostEntry{RunID: id, Stage: string(stage), Item: item, Amount: amount}
	err = p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "item"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return p.logError("add cost", err, zap.String("run_id", runID), zap.String("item", item))
	}
	return nil
}

func (p *Postgres) ListAssets(ctx context.Context, userID uint) ([]selection.Asset, error) {
	var rows []models.ReferenceAsset
	if err := p.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, p.logError("list assets", err, zap.Uint("user_id", userID))
	}
	out := make([]selection.Asset, 0, len(rows))
	for _, r := range rows {
		out = append(out, assetFromModel(r))
	}
	return out, nil
}

// CreateAsset registers a reference asset. Registering the same image twice
// for one user returns ErrDuplicateAsset.
func (p *Postgres) CreateAsset(ctx context.Context, userID uint, a selection.Asset) (selection.Asset, error) {
	row := models.ReferenceAsset{
		ID:             uuid.New(),
		UserID:         userID,
		Kind:           string(a.Kind),
		PrimarySubject: a.PrimarySubject,
		StyleTags:      datatypes.JSONSlice[string](a.StyleTags),
		ColorTags:      datatypes.JSONSlice[string](a.ColorTags),
		ImageURL:       a.ImageURL,
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return selection.Asset{}, ErrDuplicateAsset
		}
		return selection.Asset{}, p.logError("create asset", err, zap.Uint("user_id", userID))
	}
	return assetFromModel(row), nil
}

// IncrementAssetUsage flips the run's usage flag and bumps every asset in
// one transaction, so a replayed completion is a no-op.
func (p *Postgres) IncrementAssetUsage(ctx context.Context, runID string, assetIDs []string) error {
	ids := make([]uuid.UUID, 0, len(assetIDs))
	for _, s := range assetIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			p.logger.Warn("skipping malformed asset id", zap.String("asset_id", s))
			continue
		}
		ids = append(ids, id)
	}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PipelineRun{}).
			Where("id = ? AND usage_counted = ?", runID, false).
			Update("usage_counted", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 || len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.ReferenceAsset{}).
			Where("id IN ?", ids).
			UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1)).Error
	})
	if err != nil {
		return p.logError("increment asset usage", err, zap.String("run_id", runID))
	}
	return nil
}

func runFromModel(row models.PipelineRun) (pipeline.Run, error) {
	run := pipeline.Run{
		ID:              row.ID.String(),
		UserID:          row.UserID,
		Prompt:          row.Prompt,
		TotalDuration:   row.TotalDuration,
		BackendID:       row.BackendID,
		Stage:           pipeline.Stage(row.Stage),
		Status:          pipeline.Status(row.Status),
		Progress:        row.Progress,
		CancelRequested: row.CancelRequested,
		OutputURL:       row.OutputURL,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if len(row.Plan) > 0 && string(row.Plan) != "null" {
		var plan videospec.PlannerOutput
		if err := json.Unmarshal(row.Plan, &plan); err != nil {
			return pipeline.Run{}, err
		}
		run.Plan = &plan
	}
	if row.ErrorKind != "" {
		run.Error = &pipeline.RunError{
			Kind:       pipeline.ErrorKind(row.ErrorKind),
			Stage:      pipeline.Stage(row.ErrorStage),
			ChunkIndex: row.ErrorChunk,
			Message:    row.Error,
		}
	}
	return run, nil
}

func assetFromModel(r models.ReferenceAsset) selection.Asset {
	return selection.Asset{
		ID:             r.ID.String(),
		Kind:           selection.Kind(r.Kind),
		PrimarySubject: r.PrimarySubject,
		StyleTags:      []string(r.StyleTags),
		ColorTags:      []string(r.ColorTags),
		ImageURL:       r.ImageURL,
		CreatedAt:      r.CreatedAt,
		UsageCount:     r.UsageCount,
	}
}

func (p *Postgres) logError(op string, err error, fields ...zap.Field) error {
	p.logger.Error("store: "+op, append(fields, zap.Error(err))...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ pipeline.Store = (*Postgres)(nil)
