package scrape

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/reviewforge/reviews-cli/internal/db"
	"github.com/reviewforge/reviews-cli/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const configColumns = `id, location_id, business_id, platform, provider_config,
	initial_depth, recurring_depth, frequency, status, external_job_id,
	retry_count, last_error, last_scraped_at, initial_scrape_done, created_at, updated_at`

func scanConfig(row interface{ Scan(dest ...any) error }) (*model.ScrapingJobConfig, error) {
	var c model.ScrapingJobConfig
	err := row.Scan(
		&c.ID, &c.LocationID, &c.BusinessID, &c.Platform, &c.ProviderConfig,
		&c.InitialDepth, &c.RecurringDepth, &c.Frequency, &c.Status, &c.ExternalJobID,
		&c.RetryCount, &c.LastError, &c.LastScrapedAt, &c.InitialScrapeDone, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConfig loads one job config by id.
func (s *PostgresStore) GetConfig(ctx context.Context, id string) (*model.ScrapingJobConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM scraping_job_configs WHERE id = $1`, id)
	cfg, err := scanConfig(row)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: get config %s", id)
	}
	return cfg, nil
}

// ConfigsForLocation loads all job configs for one location.
func (s *PostgresStore) ConfigsForLocation(ctx context.Context, locationID string) ([]model.ScrapingJobConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+configColumns+` FROM scraping_job_configs WHERE location_id = $1 ORDER BY platform`,
		locationID)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: configs for location %s", locationID)
	}
	defer rows.Close()

	var configs []model.ScrapingJobConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scrape: scan config")
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "scrape: iterate configs")
	}
	return configs, nil
}

// BusyConfigs returns all jobs currently elaborating or checking.
func (s *PostgresStore) BusyConfigs(ctx context.Context) ([]model.ScrapingJobConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+configColumns+` FROM scraping_job_configs
		 WHERE status IN ($1, $2) ORDER BY updated_at`,
		string(model.ScrapeElaborating), string(model.ScrapeChecking))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: busy configs")
	}
	defer rows.Close()

	var configs []model.ScrapingJobConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scrape: scan config")
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "scrape: iterate configs")
	}
	return configs, nil
}

const dueConfigsQuery = `SELECT c.id, c.location_id, c.business_id, c.platform, c.provider_config,
	c.initial_depth, c.recurring_depth, c.frequency, c.status, c.external_job_id,
	c.retry_count, c.last_error, c.last_scraped_at, c.initial_scrape_done, c.created_at, c.updated_at
 FROM scraping_job_configs c
 JOIN locations l ON l.id = c.location_id
 WHERE l.recurring_enabled
   AND c.initial_scrape_done
   AND c.status NOT IN ($1, $2)
   AND ((c.frequency = $3 AND c.last_scraped_at <= $4::timestamptz - interval '1 day')
     OR (c.frequency = $5 AND c.last_scraped_at <= $4::timestamptz - interval '7 days'))
 ORDER BY c.last_scraped_at`

// DueConfigs returns recurring-enabled jobs whose frequency interval elapsed
// since their last completed scrape. Only jobs whose initial backfill already
// finished are eligible; the initial scrape is operator-triggered, never
// scheduled. Busy jobs are excluded so a slow run is never doubled up.
func (s *PostgresStore) DueConfigs(ctx context.Context, now time.Time) ([]model.ScrapingJobConfig, error) {
	rows, err := s.pool.Query(ctx, dueConfigsQuery,
		string(model.ScrapeElaborating), string(model.ScrapeChecking),
		string(model.FrequencyDaily), now, string(model.FrequencyWeekly))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: due configs")
	}
	defer rows.Close()

	var configs []model.ScrapingJobConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scrape: scan config")
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "scrape: iterate configs")
	}
	return configs, nil
}

// MarkTriggered records the external run id and moves the job to elaborating.
func (s *PostgresStore) MarkTriggered(ctx context.Context, id, externalJobID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scraping_job_configs
		 SET status = $1, external_job_id = $2, last_error = '', updated_at = now()
		 WHERE id = $3`,
		string(model.ScrapeElaborating), externalJobID, id)
	if err != nil {
		return eris.Wrapf(err, "scrape: mark triggered %s", id)
	}
	return nil
}

// MarkChecking moves the job to checking.
func (s *PostgresStore) MarkChecking(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scraping_job_configs SET status = $1, updated_at = now() WHERE id = $2`,
		string(model.ScrapeChecking), id)
	if err != nil {
		return eris.Wrapf(err, "scrape: mark checking %s", id)
	}
	return nil
}

// MarkCompleted finishes the job and stamps last_scraped_at. The
// initial_scrape_done flag only ever moves from false to true.
func (s *PostgresStore) MarkCompleted(ctx context.Context, id string, initialDone bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scraping_job_configs
		 SET status = $1, last_scraped_at = now(),
		     initial_scrape_done = initial_scrape_done OR $2,
		     retry_count = 0, last_error = '', updated_at = now()
		 WHERE id = $3`,
		string(model.ScrapeCompleted), initialDone, id)
	if err != nil {
		return eris.Wrapf(err, "scrape: mark completed %s", id)
	}
	return nil
}

// MarkFailed records the failure reason and bumps the retry counter.
func (s *PostgresStore) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scraping_job_configs
		 SET status = $1, last_error = $2, retry_count = retry_count + 1, updated_at = now()
		 WHERE id = $3`,
		string(model.ScrapeFailed), reason, id)
	if err != nil {
		return eris.Wrapf(err, "scrape: mark failed %s", id)
	}
	return nil
}

// ClearReportSent resets the location report flag.
func (s *PostgresStore) ClearReportSent(ctx context.Context, locationID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE locations SET report_sent = false WHERE id = $1`, locationID)
	if err != nil {
		return eris.Wrapf(err, "scrape: clear report flag for location %s", locationID)
	}
	return nil
}
