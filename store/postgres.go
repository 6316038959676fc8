// Package store persists scrape results and their provenance in Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/use-agent/prodscrape/models"
)

// ErrNotFound is returned when no scrape is stored for a URL.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS product_scrapes (
	id             BIGSERIAL PRIMARY KEY,
	request_url    TEXT        NOT NULL,
	source_url     TEXT        NOT NULL DEFAULT '',
	outcome        TEXT        NOT NULL,
	product_name   TEXT,
	brand          TEXT,
	price_amount   NUMERIC,
	price_currency TEXT,
	image_urls     JSONB       NOT NULL DEFAULT '[]',
	garment_type   TEXT        NOT NULL,
	availability   TEXT        NOT NULL,
	attribution    JSONB       NOT NULL DEFAULT '{}',
	missing_fields TEXT[]      NOT NULL DEFAULT '{}',
	total_ms       BIGINT      NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS product_scrapes_request_url_idx ON product_scrapes (request_url, created_at DESC);

CREATE TABLE IF NOT EXISTS scrape_attempts (
	scrape_id   BIGINT  NOT NULL REFERENCES product_scrapes (id) ON DELETE CASCADE,
	strategy    TEXT    NOT NULL,
	outcome     TEXT    NOT NULL,
	status_code INT     NOT NULL DEFAULT 0,
	final_url   TEXT    NOT NULL DEFAULT '',
	accepted    INT     NOT NULL DEFAULT 0,
	error_kind  TEXT    NOT NULL DEFAULT '',
	error       TEXT    NOT NULL DEFAULT '',
	elapsed_ms  BIGINT  NOT NULL DEFAULT 0
);
`

// Postgres stores every scrape call with its attempts.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres connects to dsn and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Postgres) Close() {
	s.db.Close()
}

// scrapeRow is the flattened product_scrapes row.
type scrapeRow struct {
	requestURL    string
	sourceURL     string
	outcome       string
	productName   *string
	brand         *string
	priceAmount   *string
	priceCurrency *string
	imageURLs     []byte
	garmentType   string
	availability  string
	attribution   []byte
	missingFields []string
	totalMs       int64
}

func toRow(requestURL string, resp *models.ScrapeResponse) (*scrapeRow, error) {
	row := &scrapeRow{
		requestURL:    requestURL,
		sourceURL:     resp.SourceURL,
		outcome:       string(resp.Outcome),
		garmentType:   string(models.GarmentUnsupported),
		availability:  string(models.AvailabilityUnknown),
		missingFields: resp.MissingFields,
		totalMs:       resp.Timing.TotalMs,
	}
	if row.missingFields == nil {
		row.missingFields = []string{}
	}

	images := []string{}
	if p := resp.Product; p != nil {
		row.productName = p.ProductName
		row.brand = p.Brand
		if p.Price != nil {
			amount := p.Price.Amount.String()
			currency := p.Price.Currency
			row.priceAmount = &amount
			row.priceCurrency = &currency
		}
		if p.ImageURLs != nil {
			images = p.ImageURLs
		}
		if p.GarmentType.Valid() {
			row.garmentType = string(p.GarmentType)
		}
		if p.Availability.Valid() {
			row.availability = string(p.Availability)
		}
	}

	var err error
	if row.imageURLs, err = json.Marshal(images); err != nil {
		return nil, err
	}
	attribution := resp.Attribution
	if attribution == nil {
		attribution = map[string]string{}
	}
	if row.attribution, err = json.Marshal(attribution); err != nil {
		return nil, err
	}
	return row, nil
}

// Save stores one scrape call and its attempts in a single transaction and
// returns the new row id.
func (s *Postgres) Save(ctx context.Context, requestURL string, resp *models.ScrapeResponse) (int64, error) {
	row, err := toRow(requestURL, resp)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO product_scrapes (request_url, source_url, outcome, product_name, brand,
		   price_amount, price_currency, image_urls, garment_type, availability,
		   attribution, missing_fields, total_ms)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		row.requestURL, row.sourceURL, row.outcome, row.productName, row.brand,
		row.priceAmount, row.priceCurrency, row.imageURLs, row.garmentType, row.availability,
		row.attribution, row.missingFields, row.totalMs,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert scrape: %w", err)
	}

	if len(resp.Attempts) > 0 {
		batch := &pgx.Batch{}
		for _, a := range resp.Attempts {
			batch.Queue(`INSERT INTO scrape_attempts (scrape_id, strategy, outcome, status_code,
			               final_url, accepted, error_kind, error, elapsed_ms)
			             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				id, a.Strategy, a.Outcome, a.StatusCode, a.FinalURL, a.Accepted, a.ErrorKind, a.Error, a.ElapsedMs)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, fmt.Errorf("insert attempts: %w", err)
		}
	}

	return id, tx.Commit(ctx)
}

// Stored is a scrape read back from the database.
type Stored struct {
	ID        int64
	CreatedAt time.Time
	Response  *models.ScrapeResponse
}

// Latest returns the most recent scrape of requestURL, attempts included.
func (s *Postgres) Latest(ctx context.Context, requestURL string) (*Stored, error) {
	var (
		st            Stored
		outcome       string
		productName   *string
		brand         *string
		priceAmount   *string
		priceCurrency *string
		imagesJSON    []byte
		garmentType   string
		availability  string
		attribution   []byte
		resp          models.ScrapeResponse
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, created_at, source_url, outcome, product_name, brand,
		        price_amount::text, price_currency, image_urls, garment_type, availability,
		        attribution, missing_fields, total_ms
		 FROM product_scrapes
		 WHERE request_url = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, requestURL,
	).Scan(&st.ID, &st.CreatedAt, &resp.SourceURL, &outcome, &productName, &brand,
		&priceAmount, &priceCurrency, &imagesJSON, &garmentType, &availability,
		&attribution, &resp.MissingFields, &resp.Timing.TotalMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	resp.Outcome = models.Outcome(outcome)
	resp.Success = resp.Outcome != models.OutcomeFailure
	if err := json.Unmarshal(attribution, &resp.Attribution); err != nil {
		return nil, fmt.Errorf("decode attribution: %w", err)
	}
	if resp.Success {
		rec := models.NewProductRecord()
		rec.ProductName = productName
		rec.Brand = brand
		rec.GarmentType = models.GarmentType(garmentType)
		rec.Availability = models.Availability(availability)
		if err := json.Unmarshal(imagesJSON, &rec.ImageURLs); err != nil {
			return nil, fmt.Errorf("decode images: %w", err)
		}
		if priceAmount != nil && priceCurrency != nil {
			var p models.Price
			raw := fmt.Sprintf(`{"amount":%s,"currency":%q}`, *priceAmount, *priceCurrency)
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				return nil, fmt.Errorf("decode price: %w", err)
			}
			rec.Price = &p
		}
		resp.Product = &rec
	}

	rows, err := s.db.Query(ctx,
		`SELECT strategy, outcome, status_code, final_url, accepted, error_kind, error, elapsed_ms
		 FROM scrape_attempts WHERE scrape_id = $1`, st.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	resp.Attempts = []models.AttemptInfo{}
	for rows.Next() {
		var a models.AttemptInfo
		if err := rows.Scan(&a.Strategy, &a.Outcome, &a.StatusCode, &a.FinalURL,
			&a.Accepted, &a.ErrorKind, &a.Error, &a.ElapsedMs); err != nil {
			return nil, err
		}
		resp.Attempts = append(resp.Attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	st.Response = &resp
	return &st, nil
}
