package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/david/bid-intel/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// noticeCols is the column list shared by every notice query.
const noticeCols = `notice_id, solicitation_number, title, agency, naics_code, set_aside, notice_type,
	posted_date, response_deadline, active, place_of_performance, has_point_of_contact,
	raw_description, description, description_sources, ui_link, additional_info_link, resource_links,
	documents, fetched_at, updated_at`

func scanNotice(scan func(dest ...interface{}) error, extra ...interface{}) (models.Notice, error) {
	var n models.Notice
	var solNum, agency, naics, setAside, noticeType, pop, rawDesc, desc, uiLink, infoLink *string
	var fetchedAt *time.Time
	var documentsRaw []byte

	dest := []interface{}{
		&n.NoticeID, &solNum, &n.Title, &agency, &naics, &setAside, &noticeType,
		&n.PostedDate, &n.ResponseDeadline, &n.Active, &pop, &n.HasPointOfContact,
		&rawDesc, &desc, &n.DescriptionSources, &uiLink, &infoLink, &n.ResourceLinks,
		&documentsRaw, &fetchedAt, &n.UpdatedAt,
	}
	if err := scan(append(dest, extra...)...); err != nil {
		return n, err
	}

	// Assign nullable strings
	n.SolicitationNumber = deref(solNum)
	n.Agency = deref(agency)
	n.NAICSCode = deref(naics)
	n.SetAside = deref(setAside)
	n.Type = deref(noticeType)
	n.PlaceOfPerformance = deref(pop)
	n.RawDescription = deref(rawDesc)
	n.Description = deref(desc)
	n.UILink = deref(uiLink)
	n.AdditionalInfoLink = deref(infoLink)
	if fetchedAt != nil {
		n.FetchedAt = *fetchedAt
	}
	if len(documentsRaw) > 0 {
		_ = json.Unmarshal(documentsRaw, &n.Documents)
	}
	return n, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// UpsertNotice inserts or refreshes a notice by notice_id. The embedding
// column is left alone.
func (s *Store) UpsertNotice(ctx context.Context, n *models.Notice) error {
	documents, err := json.Marshal(nonNilDocs(n.Documents))
	if err != nil {
		return fmt.Errorf("marshal documents: %w", err)
	}
	var fetchedAt *time.Time
	if !n.FetchedAt.IsZero() {
		fetchedAt = &n.FetchedAt
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO notices (
			notice_id, solicitation_number, title, agency, naics_code, set_aside, notice_type,
			posted_date, response_deadline, active, place_of_performance, has_point_of_contact,
			raw_description, description, description_sources, ui_link, additional_info_link, resource_links,
			documents, fetched_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, NOW())
		ON CONFLICT (notice_id) DO UPDATE SET
			solicitation_number = EXCLUDED.solicitation_number,
			title = EXCLUDED.title,
			agency = EXCLUDED.agency,
			naics_code = EXCLUDED.naics_code,
			set_aside = EXCLUDED.set_aside,
			notice_type = EXCLUDED.notice_type,
			posted_date = EXCLUDED.posted_date,
			response_deadline = EXCLUDED.response_deadline,
			active = EXCLUDED.active,
			place_of_performance = EXCLUDED.place_of_performance,
			has_point_of_contact = EXCLUDED.has_point_of_contact,
			raw_description = EXCLUDED.raw_description,
			description = EXCLUDED.description,
			description_sources = EXCLUDED.description_sources,
			ui_link = EXCLUDED.ui_link,
			additional_info_link = EXCLUDED.additional_info_link,
			resource_links = EXCLUDED.resource_links,
			documents = EXCLUDED.documents,
			fetched_at = COALESCE(EXCLUDED.fetched_at, notices.fetched_at),
			updated_at = NOW()
	`,
		n.NoticeID, nullable(n.SolicitationNumber), n.Title, nullable(n.Agency), nullable(n.NAICSCode),
		nullable(n.SetAside), nullable(n.Type), n.PostedDate, n.ResponseDeadline, n.Active,
		nullable(n.PlaceOfPerformance), n.HasPointOfContact, nullable(n.RawDescription), nullable(n.Description),
		nonNil(n.DescriptionSources), nullable(n.UILink), nullable(n.AdditionalInfoLink), nonNil(n.ResourceLinks),
		documents, fetchedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert notice %s: %w", n.NoticeID, err)
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilDocs(v []models.DocRef) []models.DocRef {
	if v == nil {
		return []models.DocRef{}
	}
	return v
}

func (s *Store) GetNotice(ctx context.Context, id string) (*models.Notice, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM notices
		WHERE notice_id = $1
	`, noticeCols)
	n, err := scanNotice(s.pool.QueryRow(ctx, sql, id).Scan)
	if err != nil {
		return nil, notFound("notice", id, err)
	}
	return &n, nil
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("get %s %s: %w", kind, id, err)
}

// SetNoticeEmbedding stores the vector used by SimilarNotices.
func (s *Store) SetNoticeEmbedding(ctx context.Context, id string, embedding []float32) error {
	tag, err := s.pool.Exec(ctx, `UPDATE notices SET embedding = $2 WHERE notice_id = $1`, id, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("set embedding %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notice %s: %w", id, ErrNotFound)
	}
	return nil
}

type SimilarNotice struct {
	models.Notice
	Similarity float64 `json:"similarity"`
}

// SimilarNotices ranks other notices by cosine similarity to id. A notice
// without an embedding has no neighbours.
func (s *Store) SimilarNotices(ctx context.Context, id string, limit int) ([]SimilarNotice, error) {
	if limit <= 0 {
		limit = 5
	}
	if _, err := s.GetNotice(ctx, id); err != nil {
		return nil, err
	}

	cols := "n." + strings.Join(strings.Fields(strings.ReplaceAll(noticeCols, ",", " ")), ", n.")
	sql := fmt.Sprintf(`
		SELECT %s, 1 - (n.embedding <=> t.embedding)
		FROM notices n
		JOIN notices t ON t.notice_id = $1
		WHERE n.notice_id <> $1
			AND n.embedding IS NOT NULL
			AND t.embedding IS NOT NULL
		ORDER BY n.embedding <=> t.embedding
		LIMIT $2
	`, cols)

	rows, err := s.pool.Query(ctx, sql, id, limit)
	if err != nil {
		return nil, fmt.Errorf("similar query failed: %w", err)
	}
	defer rows.Close()

	out := []SimilarNotice{}
	for rows.Next() {
		var sim float64
		n, err := scanNotice(rows.Scan, &sim)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, SimilarNotice{Notice: n, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return out, nil
}

// UpsertDecision keeps one decision per notice; a re-evaluation replaces it.
func (s *Store) UpsertDecision(ctx context.Context, d *models.Decision) error {
	factors, err := json.Marshal(d.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}
	strengths, _ := json.Marshal(nonNil(d.Strengths))
	concerns, _ := json.Marshal(nonNil(d.Concerns))
	actions, _ := json.Marshal(nonNil(d.Actions))

	_, err = s.pool.Exec(ctx, `
		INSERT INTO decisions (
			notice_id, decision_id, recommendation, overall_score, confidence, factors,
			rationale, strengths, concerns, actions, estimated_bid_cost, win_probability,
			rationale_source, provider, evaluated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (notice_id) DO UPDATE SET
			decision_id = EXCLUDED.decision_id,
			recommendation = EXCLUDED.recommendation,
			overall_score = EXCLUDED.overall_score,
			confidence = EXCLUDED.confidence,
			factors = EXCLUDED.factors,
			rationale = EXCLUDED.rationale,
			strengths = EXCLUDED.strengths,
			concerns = EXCLUDED.concerns,
			actions = EXCLUDED.actions,
			estimated_bid_cost = EXCLUDED.estimated_bid_cost,
			win_probability = EXCLUDED.win_probability,
			rationale_source = EXCLUDED.rationale_source,
			provider = EXCLUDED.provider,
			evaluated_at = EXCLUDED.evaluated_at
	`,
		d.NoticeID, d.ID, string(d.Recommendation), d.OverallScore, d.Confidence, factors,
		d.Rationale, strengths, concerns, actions, d.EstimatedBidCost, d.WinProbability,
		string(d.RationaleSource), nullable(d.Provider), d.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert decision %s: %w", d.NoticeID, err)
	}
	return nil
}

const decisionCols = `d.notice_id, d.decision_id::text, d.recommendation, d.overall_score, d.confidence, d.factors,
	d.rationale, d.strengths, d.concerns, d.actions, d.estimated_bid_cost, d.win_probability,
	d.rationale_source, d.provider, d.evaluated_at, n.title, n.agency, n.response_deadline`

// DecisionRow is a decision with the notice fields a listing needs.
type DecisionRow struct {
	models.Decision
	Title            string     `json:"title"`
	Agency           string     `json:"agency"`
	ResponseDeadline *time.Time `json:"response_deadline"`
}

func scanDecision(scan func(dest ...interface{}) error) (DecisionRow, error) {
	var r DecisionRow
	var rec, source string
	var provider, agency *string
	var factorsRaw, strengthsRaw, concernsRaw, actionsRaw []byte

	err := scan(
		&r.NoticeID, &r.ID, &rec, &r.OverallScore, &r.Confidence, &factorsRaw,
		&r.Rationale, &strengthsRaw, &concernsRaw, &actionsRaw, &r.EstimatedBidCost, &r.WinProbability,
		&source, &provider, &r.EvaluatedAt, &r.Title, &agency, &r.ResponseDeadline,
	)
	if err != nil {
		return r, err
	}
	r.Recommendation = models.Recommendation(rec)
	r.RationaleSource = models.RationaleSource(source)
	r.Provider = deref(provider)
	r.Agency = deref(agency)
	_ = json.Unmarshal(factorsRaw, &r.Factors)
	_ = json.Unmarshal(strengthsRaw, &r.Strengths)
	_ = json.Unmarshal(concernsRaw, &r.Concerns)
	_ = json.Unmarshal(actionsRaw, &r.Actions)
	return r, nil
}

func (s *Store) GetDecision(ctx context.Context, noticeID string) (*models.Decision, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM decisions d
		JOIN notices n ON n.notice_id = d.notice_id
		WHERE d.notice_id = $1
	`, decisionCols)
	r, err := scanDecision(s.pool.QueryRow(ctx, sql, noticeID).Scan)
	if err != nil {
		return nil, notFound("decision", noticeID, err)
	}
	return &r.Decision, nil
}

type DecisionFilter struct {
	Recommendation string
	MinScore       float64
	Since          *time.Time
	NAICS          string
	SortBy         string // "score" (default), "newest", "deadline"
	Limit          int
	Offset         int
}

type DecisionList struct {
	Decisions []DecisionRow `json:"decisions"`
	Total     int           `json:"total"`
	Limit     int           `json:"limit"`
	Offset    int           `json:"offset"`
}

// buildDecisionWhere returns the WHERE clause and its args; argIdx is the
// next free placeholder.
func buildDecisionWhere(f DecisionFilter) (where string, args []interface{}, argIdx int) {
	where = "WHERE 1=1"
	argIdx = 1

	if f.Recommendation != "" {
		where += fmt.Sprintf(" AND d.recommendation = $%d", argIdx)
		args = append(args, strings.ToUpper(f.Recommendation))
		argIdx++
	}
	if f.MinScore > 0 {
		where += fmt.Sprintf(" AND d.overall_score >= $%d", argIdx)
		args = append(args, f.MinScore)
		argIdx++
	}
	if f.Since != nil {
		where += fmt.Sprintf(" AND d.evaluated_at >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}
	if f.NAICS != "" {
		where += fmt.Sprintf(" AND n.naics_code = $%d", argIdx)
		args = append(args, f.NAICS)
		argIdx++
	}
	return where, args, argIdx
}

func decisionOrder(sortBy string) string {
	switch sortBy {
	case "newest":
		return " ORDER BY d.evaluated_at DESC"
	case "deadline":
		return " ORDER BY n.response_deadline ASC NULLS LAST, d.overall_score DESC"
	default:
		return " ORDER BY d.overall_score DESC, d.evaluated_at DESC"
	}
}

func (s *Store) ListDecisions(ctx context.Context, f DecisionFilter) (*DecisionList, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	where, args, argIdx := buildDecisionWhere(f)
	from := " FROM decisions d JOIN notices n ON n.notice_id = d.notice_id "

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*)"+from+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	selectSQL := fmt.Sprintf("SELECT %s%s%s%s LIMIT $%d OFFSET $%d",
		decisionCols, from, where, decisionOrder(f.SortBy), argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := []DecisionRow{}
	for rows.Next() {
		r, err := scanDecision(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return &DecisionList{Decisions: out, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// NoticesMissingEmbedding returns up to limit notices that SimilarNotices
// cannot rank yet, oldest first.
func (s *Store) NoticesMissingEmbedding(ctx context.Context, limit int) ([]models.Notice, error) {
	if limit <= 0 {
		limit = 100
	}
	sql := fmt.Sprintf(`
		SELECT %s
		FROM notices
		WHERE embedding IS NULL
		ORDER BY fetched_at ASC
		LIMIT $1
	`, noticeCols)
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("missing embedding query failed: %w", err)
	}
	defer rows.Close()

	out := []models.Notice{}
	for rows.Next() {
		n, err := scanNotice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Stats summarises table contents.
type Stats struct {
	Notices          int                           `json:"notices"`
	WithEmbedding    int                           `json:"with_embedding"`
	WithDescription  int                           `json:"with_description"`
	Decisions        int                           `json:"decisions"`
	ByRecommendation map[models.Recommendation]int `json:"by_recommendation"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByRecommendation: map[models.Recommendation]int{}}
	err := s.pool.QueryRow(ctx, `
		SELECT count(*), count(embedding), count(NULLIF(description, ''))
		FROM notices
	`).Scan(&st.Notices, &st.WithEmbedding, &st.WithDescription)
	if err != nil {
		return nil, fmt.Errorf("notice stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT recommendation, count(*) FROM decisions GROUP BY recommendation`)
	if err != nil {
		return nil, fmt.Errorf("decision stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec string
		var count int
		if err := rows.Scan(&rec, &count); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		st.ByRecommendation[models.Recommendation(rec)] = count
		st.Decisions += count
	}
	return st, rows.Err()
}
