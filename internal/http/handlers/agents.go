package handlers

import (
	"encoding/csv"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/supportdesk/assignment/internal/models"
)

type ImportSummary struct {
	Parsed   int      `json:"parsed"`
	Errors   []string `json:"errors"`
	Upserted int      `json:"upserted"`
}

// agentRow is one validated CSV line before conversion.
type agentRow struct {
	ID                   string  `validate:"required,max=128"`
	Name                 string  `validate:"max=256"`
	Role                 string  `validate:"oneof=agent admin"`
	MaxConcurrentTickets int     `validate:"gt=0"`
	Availability         string  `validate:"oneof=available busy away offline"`
	ResolutionRate       float64 `validate:"gte=0,lte=1"`
	AvgResolutionHours   float64 `validate:"gte=0"`
	SatisfactionScore    float64 `validate:"gte=0,lte=5"`
	HasPerformance       bool
}

// @Summary List agents
// @Tags agents
// @Produce json
// @Success 200 {array} models.Agent
// @Router /api/agents [get]
func (h *Handler) AgentsList(c *gin.Context) {
	agents, err := h.Store.ListAgents(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list agents", err.Error())
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	c.JSON(http.StatusOK, agents)
}

// @Summary Import agents
// @Description Upsert the agent roster from a CSV file. Workload counters of existing agents are kept.
// @Tags agents
// @Accept multipart/form-data
// @Produce json
// @Param agents formData file true "agents.csv"
// @Success 200 {object} ImportSummary
// @Failure 400 {object} map[string]any
// @Router /api/agents/import [post]
func (h *Handler) ImportAgents(c *gin.Context) {
	file, err := c.FormFile("agents")
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "agents file required", nil)
		return
	}
	if !validateExt(file.Filename) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "file must be .csv", nil)
		return
	}

	agents, errs := parseAgentsCSV(file, h.Validator)
	summary := ImportSummary{Parsed: len(agents), Errors: errs}
	if summary.Errors == nil {
		summary.Errors = []string{}
	}
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "CSV_PARSE_ERROR", "CSV validation errors", summary.Errors)
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()
	n, err := h.Store.UpsertAgents(ctx, agents)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to upsert agents", err.Error())
		return
	}
	summary.Upserted = int(n)
	h.Logger.Info().Int("agents", summary.Upserted).Msg("agent roster imported")
	c.JSON(http.StatusOK, summary)
}

func parseAgentsCSV(file *multipart.FileHeader, validate *validator.Validate) ([]models.Agent, []string) {
	f, err := file.Open()
	if err != nil {
		return nil, []string{err.Error()}
	}
	defer f.Close()
	return readAgentsCSV(f, validate)
}

func readAgentsCSV(r io.Reader, validate *validator.Validate) ([]models.Agent, []string) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	headers, err := reader.Read()
	if err != nil {
		return nil, []string{"failed to read header"}
	}
	index := headerIndex(headers)
	var errors []string
	var out []models.Agent
	line := 1

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			errors = append(errors, err.Error())
			continue
		}

		row, rowErrs := parseAgentRow(rec, index)
		if len(rowErrs) > 0 {
			for _, e := range rowErrs {
				errors = append(errors, fmt.Sprintf("line %d: %s", line, e))
			}
			continue
		}
		if err := validate.Struct(row); err != nil {
			errors = append(errors, fmt.Sprintf("line %d: %s", line, err.Error()))
			continue
		}

		categories, err := parseExpertise(getFieldAny(rec, index, "category_expertise", "categories"))
		if err != nil {
			errors = append(errors, fmt.Sprintf("line %d: category_expertise: %s", line, err.Error()))
			continue
		}
		subcategories, err := parseExpertise(getFieldAny(rec, index, "subcategory_expertise", "subcategories"))
		if err != nil {
			errors = append(errors, fmt.Sprintf("line %d: subcategory_expertise: %s", line, err.Error()))
			continue
		}

		a := models.Agent{
			ID:                   row.ID,
			Name:                 row.Name,
			Role:                 models.Role(row.Role),
			MaxConcurrentTickets: row.MaxConcurrentTickets,
			Availability:         models.Availability(row.Availability),
			CategoryExpertise:    categories,
			SubcategoryExpertise: subcategories,
			LastActivity:         time.Now().UTC(),
		}
		if row.HasPerformance {
			a.Performance = &models.Performance{
				ResolutionRate:         row.ResolutionRate,
				AvgResolutionTimeHours: row.AvgResolutionHours,
				SatisfactionScore:      row.SatisfactionScore,
			}
		}
		out = append(out, a)
	}
	return out, errors
}

func parseAgentRow(rec []string, index map[string]int) (agentRow, []string) {
	var errs []string
	row := agentRow{
		ID:           normalizeTrim(getFieldAny(rec, index, "id", "agent_id")),
		Name:         normalizeTrim(getField(rec, index, "name")),
		Role:         strings.ToLower(normalizeTrim(getField(rec, index, "role"))),
		Availability: strings.ToLower(normalizeTrim(getField(rec, index, "availability"))),
	}
	if row.Role == "" {
		row.Role = string(models.RoleAgent)
	}
	if row.Availability == "" {
		row.Availability = string(models.AvailabilityAvailable)
	}

	capRaw := getFieldAny(rec, index, "max_concurrent_tickets", "capacity")
	capacity, err := strconv.Atoi(capRaw)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid max_concurrent_tickets %q", capRaw))
	}
	row.MaxConcurrentTickets = capacity

	rate := getField(rec, index, "resolution_rate")
	hours := getField(rec, index, "avg_resolution_time_hours")
	sat := getField(rec, index, "satisfaction_score")
	if rate == "" && hours == "" && sat == "" {
		return row, errs
	}
	row.HasPerformance = true
	for _, f := range []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"resolution_rate", rate, &row.ResolutionRate},
		{"avg_resolution_time_hours", hours, &row.AvgResolutionHours},
		{"satisfaction_score", sat, &row.SatisfactionScore},
	} {
		if f.raw == "" {
			errs = append(errs, f.name+" required when performance is given")
			continue
		}
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s %q", f.name, f.raw))
			continue
		}
		*f.dst = v
	}
	return row, errs
}

// parseExpertise reads "billing:expert;network:basic".
func parseExpertise(raw string) (map[string]models.ExpertiseLevel, error) {
	parts := splitList(raw)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make(map[string]models.ExpertiseLevel, len(parts))
	for _, p := range parts {
		key, level, ok := strings.Cut(p, ":")
		key = strings.TrimSpace(key)
		level = strings.ToLower(strings.TrimSpace(level))
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key:level, got %q", p)
		}
		switch models.ExpertiseLevel(level) {
		case models.ExpertiseExpert, models.ExpertiseIntermediate, models.ExpertiseBasic:
			out[key] = models.ExpertiseLevel(level)
		default:
			return nil, fmt.Errorf("unknown expertise level %q", level)
		}
	}
	return out, nil
}

func headerIndex(headers []string) map[string]int {
	idx := map[string]int{}
	for i, h := range headers {
		idx[normalizeHeader(h)] = i
	}
	return idx
}

func getField(rec []string, idx map[string]int, name string) string {
	pos, ok := idx[name]
	if !ok || pos >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[pos])
}

func getFieldAny(rec []string, idx map[string]int, names ...string) string {
	for _, name := range names {
		if v := getField(rec, idx, normalizeHeader(name)); v != "" {
			return v
		}
	}
	return ""
}

func normalizeHeader(h string) string {
	h = strings.ReplaceAll(h, "\ufeff", "")
	return strings.ToLower(strings.TrimSpace(h))
}

func splitList(raw string) []string {
	raw = strings.ReplaceAll(raw, ",", ";")
	parts := strings.Split(raw, ";")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeTrim(v string) string {
	return strings.TrimSpace(v)
}

func validateExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".csv"
}
