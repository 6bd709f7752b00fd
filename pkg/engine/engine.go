// Package engine wires the deterministic question-to-SQL pipeline into a
// single Answer operation: classify, extract, select, plan, validate,
// execute, format. The engine is total; every failure mode comes back as a
// structured payload, never as an error or panic.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medagenda/query-engine/pkg/answer"
	"github.com/medagenda/query-engine/pkg/apperrors"
	"github.com/medagenda/query-engine/pkg/config"
	"github.com/medagenda/query-engine/pkg/executor"
	"github.com/medagenda/query-engine/pkg/extraction"
	"github.com/medagenda/query-engine/pkg/intent"
	"github.com/medagenda/query-engine/pkg/logging"
	"github.com/medagenda/query-engine/pkg/planner"
	"github.com/medagenda/query-engine/pkg/schema"
	"github.com/medagenda/query-engine/pkg/selection"
)

// Engine orchestrates the full pipeline over injected collaborators. All
// components are pure computation; the only suspension point is the gateway
// call inside the executor.
type Engine struct {
	cfg       *config.Config
	logger    *zap.Logger
	provider  schema.Provider
	gateway   executor.DatabaseGateway
	retriever selection.SemanticRetriever

	detector  *intent.Detector
	extractor *extraction.Extractor
	tables    *selection.TableSelector
	columns   *selection.ColumnSelector
	planner   *planner.Planner
	validator *planner.Validator
	executor  *executor.Executor
	formatter *answer.Formatter
}

// New builds an engine. The retriever may be nil; table selection then runs
// on lexical scoring alone.
func New(cfg *config.Config, logger *zap.Logger, provider schema.Provider, gateway executor.DatabaseGateway, retriever selection.SemanticRetriever) *Engine {
	intentCfg := intent.DefaultConfig()
	intentCfg.MinConfidence = cfg.Pipeline.MinIntentConfidence

	tableCfg := selection.DefaultTableSelectorConfig()
	tableCfg.MinScore = cfg.Pipeline.MinTableScore

	plannerCfg := planner.DefaultConfig()
	plannerCfg.DefaultListLimit = cfg.Pipeline.DefaultListLimit
	plannerCfg.MaxSelectColumns = cfg.Pipeline.MaxSelectColumns

	answerCfg := answer.DefaultConfig()
	answerCfg.IncludeTrace = cfg.Answer.IncludeTrace
	answerCfg.MaxPreviewRows = cfg.Answer.MaxPreviewRows

	return &Engine{
		cfg:       cfg,
		logger:    logger,
		provider:  provider,
		gateway:   gateway,
		retriever: retriever,
		detector:  intent.NewDetector(intentCfg),
		extractor: extraction.NewExtractor(),
		tables:    selection.NewTableSelector(tableCfg),
		columns:   selection.NewColumnSelector(selection.DefaultColumnSelectorConfig()),
		planner:   planner.New(plannerCfg),
		validator: planner.NewValidator(),
		executor:  executor.New(gateway),
		formatter: answer.New(answerCfg),
	}
}

// Answer runs the full pipeline for one question. The dialect argument is
// optional; resolution order is explicit > schema-declared > configured
// default > sqlserver.
func (e *Engine) Answer(ctx context.Context, question, dialect string) (payload answer.Payload) {
	requestID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("pipeline panic",
				zap.String("request_id", requestID),
				zap.Any("panic", r))
			payload = errorPayload("internal_error", fmt.Sprintf("Error interno: %v", r), nil)
		}
	}()

	detection := e.detector.Detect(question)
	entities := e.extractor.Extract(question, time.Time{})

	snapshot, err := e.provider.Snapshot()
	if err != nil {
		e.logger.Error("schema snapshot failed",
			zap.String("request_id", requestID),
			zap.String("error", logging.SanitizeError(err)))
		return errorPayload("internal_error", "Error interno: no se pudo leer el esquema", nil)
	}

	dialectEff := e.resolveDialect(dialect, snapshot)

	selRes, err := e.chooseTable(ctx, question, snapshot, &entities, dialectEff)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNoTableCandidate) {
			return errorPayload("internal_error", "Error interno: "+logging.SanitizeError(err), nil)
		}
		candidates := make([]string, 0, len(selRes.Candidates))
		for _, c := range selRes.Candidates {
			candidates = append(candidates, c.Table.FullName)
		}
		e.logger.Info("no table candidate",
			zap.String("request_id", requestID),
			zap.Strings("candidates", candidates))
		return errorPayload("no_table_candidate", "No se encontro una tabla candidata para la consulta.", map[string]any{
			"candidates": candidates,
			"reasons":    selRes.Reasons,
		})
	}

	chosen := selRes.Chosen.Table
	profile := selection.ProfileFromSnapshot(chosen, columnTypesFor(snapshot, chosen.FullName), primaryKeysFor(snapshot, chosen.FullName))
	colSel := e.columns.Select(profile, question, &entities)

	plan, err := e.planner.Build(planner.BuildRequest{
		Intent:   detection.Intent,
		Dialect:  dialectEff,
		Table:    profile,
		Columns:  colSel,
		Entities: &entities,
		Question: question,
	})
	if err != nil {
		e.logger.Warn("plan build failed",
			zap.String("request_id", requestID),
			zap.String("intent", string(detection.Intent)),
			zap.String("error", logging.SanitizeError(err)))
		return errorPayload("internal_error", "Error interno: "+logging.SanitizeError(err), nil)
	}

	catalog := schema.BuildCatalog(snapshot)
	validation := e.validator.Validate(plan, catalog, profile, colSel)

	if !validation.OK {
		e.logger.Info("plan rejected by validation",
			zap.String("request_id", requestID),
			zap.String("table", profile.FullName),
			zap.String("sql", logging.SanitizeQuery(plan.SQL)))
		empty := &executor.QueryResult{
			Rows:     []map[string]any{},
			Columns:  []string{},
			Meta:     plan.Meta,
			Warnings: plan.Warnings,
		}
		return e.formatter.Format(answer.Request{
			Intent:     detection.Intent,
			Plan:       plan,
			Result:     empty,
			Validation: &validation,
			RequestID:  requestID,
		})
	}

	result, err := e.executor.Execute(ctx, plan)
	if err != nil {
		e.logger.Error("execution failed",
			zap.String("request_id", requestID),
			zap.String("sql", logging.SanitizeQuery(plan.SQL)),
			zap.String("error", logging.SanitizeError(err)))
		return errorPayload("internal_error", "Error interno: "+logging.SanitizeError(err), nil)
	}

	e.logger.Info("question answered",
		zap.String("request_id", requestID),
		zap.String("intent", string(detection.Intent)),
		zap.String("table", profile.FullName),
		zap.Int("rowcount", result.RowCount),
		zap.Float64("elapsed_ms", result.ElapsedMS))

	return e.formatter.Format(answer.Request{
		Intent:     detection.Intent,
		Plan:       plan,
		Result:     result,
		Validation: &validation,
		RequestID:  requestID,
	})
}

// chooseTable runs table selection and turns an empty choice into
// apperrors.ErrNoTableCandidate, wrapped with the question for the log line.
func (e *Engine) chooseTable(ctx context.Context, question string, snapshot *schema.DatabaseSchema, entities *extraction.Entities, dialect schema.Dialect) (selection.TableSelectionResult, error) {
	selRes := e.tables.Select(ctx, question, tableSnapshots(snapshot), entities, e.retriever, string(dialect))
	if selRes.Chosen == nil {
		return selRes, fmt.Errorf("%w: %q", apperrors.ErrNoTableCandidate, question)
	}
	return selRes, nil
}

// resolveDialect applies the resolution order: explicit caller choice, then
// the snapshot's declared dialect, then the configured default, then the
// hardcoded fallback.
func (e *Engine) resolveDialect(explicit string, snapshot *schema.DatabaseSchema) schema.Dialect {
	if d := schema.ParseDialect(strings.TrimSpace(explicit)); d != "" {
		return d
	}
	if snapshot != nil && snapshot.Dialect != "" {
		return snapshot.Dialect
	}
	if d := schema.ParseDialect(e.cfg.DefaultDialect); d != "" {
		return d
	}
	return schema.DialectSQLServer
}

func tableSnapshots(s *schema.DatabaseSchema) []selection.TableSnapshot {
	if s == nil {
		return nil
	}
	out := make([]selection.TableSnapshot, 0, len(s.Tables))
	for _, t := range s.Tables {
		if t.FullName == "" || t.Name == "" {
			continue
		}
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			if c.Name != "" {
				cols = append(cols, strings.ToLower(c.Name))
			}
		}
		out = append(out, selection.TableSnapshot{
			FullName: strings.ToLower(t.FullName),
			Name:     strings.ToLower(t.Name),
			Schema:   strings.ToLower(t.Schema),
			Columns:  cols,
		})
	}
	return out
}

func columnTypesFor(s *schema.DatabaseSchema, fullName string) map[string]string {
	types := map[string]string{}
	t := s.Table(fullName)
	if t == nil {
		return types
	}
	for _, c := range t.Columns {
		if c.Name != "" {
			types[strings.ToLower(c.Name)] = c.Type
		}
	}
	return types
}

func primaryKeysFor(s *schema.DatabaseSchema, fullName string) []string {
	var pks []string
	t := s.Table(fullName)
	if t == nil {
		return pks
	}
	for _, c := range t.Columns {
		if c.PK && c.Name != "" {
			pks = append(pks, strings.ToLower(c.Name))
		}
	}
	return pks
}

func errorPayload(code, message string, extra map[string]any) answer.Payload {
	trace := map[string]any{"code": code}
	for k, v := range extra {
		trace[k] = v
	}
	return answer.Payload{
		Status:   "error",
		Message:  message,
		Data:     map[string]any{},
		Trace:    trace,
		Warnings: []string{},
	}
}
