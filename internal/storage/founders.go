package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hakken/internal/model"
)

const founderColumns = `id, founder_key, full_name, linkedin_url, github_login, email,
	location, headline, is_serial_founder, is_technical, has_faang_experience,
	has_startup_experience, has_domain_expertise, previous_exits, years_experience,
	founder_score, score_calculated_at, created_at, updated_at`

// UpsertFounder inserts or merges a founder keyed by founder_key. Merging
// never loses information: profile fields fill in blanks, background flags
// only turn on, exits and years only grow. The score is left alone; it is
// recomputed separately once the background settles.
func (db *DB) UpsertFounder(ctx context.Context, f model.Founder) (model.Founder, error) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	row := db.pool.QueryRow(ctx,
		`INSERT INTO founders (
			id, founder_key, full_name, linkedin_url, github_login, email,
			location, headline, is_serial_founder, is_technical, has_faang_experience,
			has_startup_experience, has_domain_expertise, previous_exits, years_experience
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (founder_key) DO UPDATE SET
			full_name = COALESCE(NULLIF(EXCLUDED.full_name, ''), founders.full_name),
			linkedin_url = COALESCE(EXCLUDED.linkedin_url, founders.linkedin_url),
			github_login = COALESCE(EXCLUDED.github_login, founders.github_login),
			email = COALESCE(EXCLUDED.email, founders.email),
			location = COALESCE(EXCLUDED.location, founders.location),
			headline = COALESCE(EXCLUDED.headline, founders.headline),
			is_serial_founder = founders.is_serial_founder OR EXCLUDED.is_serial_founder,
			is_technical = founders.is_technical OR EXCLUDED.is_technical,
			has_faang_experience = founders.has_faang_experience OR EXCLUDED.has_faang_experience,
			has_startup_experience = founders.has_startup_experience OR EXCLUDED.has_startup_experience,
			has_domain_expertise = founders.has_domain_expertise OR EXCLUDED.has_domain_expertise,
			previous_exits = GREATEST(founders.previous_exits, EXCLUDED.previous_exits),
			years_experience = GREATEST(founders.years_experience, EXCLUDED.years_experience),
			updated_at = now()
		RETURNING `+founderColumns,
		f.ID, f.FounderKey, f.FullName, f.LinkedIn, f.GitHub, f.Email,
		f.Location, f.Headline, f.IsSerialFounder, f.IsTechnical, f.HasFAANGExperience,
		f.HasStartupHistory, f.HasDomainExpertise, f.PreviousExits, f.YearsExperience)
	merged, err := scanFounder(row)
	if err != nil {
		return model.Founder{}, fmt.Errorf("storage: upsert founder: %w", err)
	}
	return merged, nil
}

// GetFounderByKey fetches one founder by founder_key.
func (db *DB) GetFounderByKey(ctx context.Context, founderKey string) (model.Founder, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+founderColumns+` FROM founders WHERE founder_key = $1`, founderKey)
	f, err := scanFounder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Founder{}, ErrNotFound
		}
		return model.Founder{}, fmt.Errorf("storage: get founder: %w", err)
	}
	return f, nil
}

// UpdateFounderScore stores a freshly computed quality score together with
// the serial-founder determination derived while scoring.
func (db *DB) UpdateFounderScore(ctx context.Context, id uuid.UUID, score float64, isSerial bool) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE founders
		 SET founder_score = $1, is_serial_founder = $2,
		     score_calculated_at = now(), updated_at = now()
		 WHERE id = $3`,
		score, isSerial, id)
	if err != nil {
		return fmt.Errorf("storage: update founder score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddExperience appends one background entry for a founder.
func (db *DB) AddExperience(ctx context.Context, e model.FounderExperience) (model.FounderExperience, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ExperienceType == "" {
		e.ExperienceType = model.ExperienceWork
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO founder_experiences (
			id, founder_id, experience_type, organization, title, start_year, end_year,
			is_current, was_founder, was_executive, was_engineering, resulted_in_exit, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.FounderID, e.ExperienceType, e.Organization, e.Title, e.StartYear, e.EndYear,
		e.IsCurrent, e.WasFounder, e.WasExecutive, e.WasEngineering, e.ResultedInExit, e.CreatedAt)
	if err != nil {
		return model.FounderExperience{}, fmt.Errorf("storage: add founder experience: %w", err)
	}
	return e, nil
}

// GetExperiences lists a founder's background, current roles first, then
// most recent.
func (db *DB) GetExperiences(ctx context.Context, founderID uuid.UUID) ([]model.FounderExperience, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, founder_id, experience_type, organization, title, start_year, end_year,
		        is_current, was_founder, was_executive, was_engineering, resulted_in_exit, created_at
		 FROM founder_experiences
		 WHERE founder_id = $1
		 ORDER BY is_current DESC, end_year DESC NULLS FIRST, start_year DESC NULLS LAST`,
		founderID)
	if err != nil {
		return nil, fmt.Errorf("storage: query founder experiences: %w", err)
	}
	defer rows.Close()

	var experiences []model.FounderExperience
	for rows.Next() {
		var e model.FounderExperience
		if err := rows.Scan(&e.ID, &e.FounderID, &e.ExperienceType, &e.Organization, &e.Title,
			&e.StartYear, &e.EndYear, &e.IsCurrent, &e.WasFounder, &e.WasExecutive,
			&e.WasEngineering, &e.ResultedInExit, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan founder experience: %w", err)
		}
		experiences = append(experiences, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate founder experiences: %w", err)
	}
	return experiences, nil
}

// LinkFounderToSignal ties a founder to a signal. Re-linking the same pair
// updates the relationship and confidence instead of duplicating.
func (db *DB) LinkFounderToSignal(ctx context.Context, link model.FounderSignalLink) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	if link.Relationship == "" {
		link.Relationship = model.RelationshipFounder
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO founder_signals (id, founder_id, signal_id, relationship, confidence)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (founder_id, signal_id) DO UPDATE SET
			relationship = EXCLUDED.relationship,
			confidence = EXCLUDED.confidence`,
		link.ID, link.FounderID, link.SignalID, link.Relationship, link.Confidence)
	if err != nil {
		return fmt.Errorf("storage: link founder to signal: %w", err)
	}
	return nil
}

// GetFoundersForCompany returns the founders linked to any signal stored
// under the canonical key, strongest first.
func (db *DB) GetFoundersForCompany(ctx context.Context, canonicalKey string) ([]model.Founder, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+founderColumns+`
		 FROM founders
		 WHERE id IN (
			SELECT fs.founder_id
			FROM founder_signals fs
			JOIN signals s ON s.id = fs.signal_id
			WHERE s.canonical_key = $1)
		 ORDER BY founder_score DESC, full_name ASC`, canonicalKey)
	if err != nil {
		return nil, fmt.Errorf("storage: query company founders: %w", err)
	}
	defer rows.Close()

	var founders []model.Founder
	for rows.Next() {
		f, err := scanFounder(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan founder: %w", err)
		}
		founders = append(founders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate founders: %w", err)
	}
	return founders, nil
}

func scanFounder(row pgx.Row) (model.Founder, error) {
	var f model.Founder
	err := row.Scan(
		&f.ID, &f.FounderKey, &f.FullName, &f.LinkedIn, &f.GitHub, &f.Email,
		&f.Location, &f.Headline, &f.IsSerialFounder, &f.IsTechnical, &f.HasFAANGExperience,
		&f.HasStartupHistory, &f.HasDomainExpertise, &f.PreviousExits, &f.YearsExperience,
		&f.FounderScore, &f.ScoreCalculatedAt, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return model.Founder{}, err
	}
	return f, nil
}
