package callRepository

const (
	queryCreateCallSummary = `
		INSERT INTO call_summaries (
			id, call_id, company_id, caller_phone, outcome,
			detected_intent, tier_used, turn_count, appointment_id,
			facts, started_at, ended_at, created_at
		) VALUES (
			:id, :call_id, :company_id, :caller_phone, :outcome,
			:detected_intent, :tier_used, :turn_count, :appointment_id,
			:facts, :started_at, :ended_at, :created_at
		)
	`

	queryGetCallSummaryByCallID = `
		SELECT
			id, call_id, company_id, caller_phone, outcome,
			detected_intent, tier_used, turn_count, appointment_id,
			facts, started_at, ended_at, created_at
		FROM call_summaries
		WHERE call_id = :call_id
	`

	queryListCallSummariesByDate = `
		SELECT
			id, call_id, company_id, caller_phone, outcome,
			detected_intent, tier_used, turn_count, appointment_id,
			facts, started_at, ended_at, created_at
		FROM call_summaries
		WHERE started_at >= :day_start AND started_at < :day_end
		ORDER BY company_id, started_at
	`

	queryCountCallSummariesOlderThan = `
		SELECT COUNT(*)
		FROM call_summaries
		WHERE ended_at < :cutoff
	`

	queryDeleteCallSummariesOlderThan = `
		DELETE FROM call_summaries
		WHERE ended_at < :cutoff
	`

	queryCreateTranscript = `
		INSERT INTO call_transcripts (
			id, call_id, company_id, turns, turn_count,
			archive_bucket, archive_key, moved_to_cold_at, created_at
		) VALUES (
			:id, :call_id, :company_id, :turns, :turn_count,
			:archive_bucket, :archive_key, :moved_to_cold_at, :created_at
		)
	`

	queryGetTranscriptByCallID = `
		SELECT
			id, call_id, company_id, turns, turn_count,
			archive_bucket, archive_key, moved_to_cold_at, created_at
		FROM call_transcripts
		WHERE call_id = :call_id
	`

	queryListTranscriptsEligibleForArchive = `
		SELECT
			id, call_id, company_id, turns, turn_count,
			archive_bucket, archive_key, moved_to_cold_at, created_at
		FROM call_transcripts
		WHERE moved_to_cold_at IS NULL AND created_at < :cutoff
		ORDER BY created_at
		LIMIT :limit
	`

	queryMarkTranscriptArchived = `
		UPDATE call_transcripts
		SET
			turns = NULL,
			archive_bucket = :archive_bucket,
			archive_key = :archive_key,
			moved_to_cold_at = :moved_to_cold_at
		WHERE id = :id
	`

	queryCountTranscriptsOlderThan = `
		SELECT COUNT(*)
		FROM call_transcripts
		WHERE created_at < :cutoff
	`

	queryDeleteTranscriptsOlderThan = `
		DELETE FROM call_transcripts
		WHERE created_at < :cutoff
	`

	queryUpsertCustomerByPhone = `
		INSERT INTO customers (
			id, company_id, name, phone, address,
			anonymized, last_contact_at, created_at, updated_at
		) VALUES (
			:id, :company_id, :name, :phone, :address,
			:anonymized, :last_contact_at, :created_at, :updated_at
		)
		ON CONFLICT (company_id, phone) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), customers.name),
			address = COALESCE(NULLIF(EXCLUDED.address, ''), customers.address),
			last_contact_at = EXCLUDED.last_contact_at,
			updated_at = EXCLUDED.updated_at
	`

	queryListDormantCustomers = `
		SELECT
			id, company_id, name, phone, address,
			anonymized, last_contact_at, created_at, updated_at
		FROM customers
		WHERE anonymized = false AND last_contact_at < :cutoff
		ORDER BY last_contact_at
		LIMIT :limit
	`

	queryCountDormantCustomers = `
		SELECT COUNT(*)
		FROM customers
		WHERE anonymized = false AND last_contact_at < :cutoff
	`

	queryAnonymizeCustomer = `
		UPDATE customers
		SET
			name = :name,
			phone = :phone,
			address = '',
			anonymized = true,
			updated_at = :updated_at
		WHERE id = :id
	`

	queryUpsertDailyStats = `
		INSERT INTO daily_call_stats (
			company_id, date, total_calls, by_outcome, by_tier,
			by_intent, hourly_volume, booked_count, escalated_rate, computed_at
		) VALUES (
			:company_id, :date, :total_calls, :by_outcome, :by_tier,
			:by_intent, :hourly_volume, :booked_count, :escalated_rate, :computed_at
		)
		ON CONFLICT (company_id, date) DO UPDATE SET
			total_calls = EXCLUDED.total_calls,
			by_outcome = EXCLUDED.by_outcome,
			by_tier = EXCLUDED.by_tier,
			by_intent = EXCLUDED.by_intent,
			hourly_volume = EXCLUDED.hourly_volume,
			booked_count = EXCLUDED.booked_count,
			escalated_rate = EXCLUDED.escalated_rate,
			computed_at = EXCLUDED.computed_at
	`

	queryGetDailyStats = `
		SELECT
			company_id, date, total_calls, by_outcome, by_tier,
			by_intent, hourly_volume, booked_count, escalated_rate, computed_at
		FROM daily_call_stats
		WHERE company_id = :company_id AND date = :date
	`

	queryListDatesMissingRollup = `
		SELECT DISTINCT to_char(s.started_at, 'YYYY-MM-DD') AS date
		FROM call_summaries s
		WHERE s.started_at >= :window_start
		AND NOT EXISTS (
			SELECT 1 FROM daily_call_stats d
			WHERE d.company_id = s.company_id
			AND d.date = to_char(s.started_at, 'YYYY-MM-DD')
		)
		ORDER BY date
	`

	queryCreateBehavioralEvent = `
		INSERT INTO behavioral_events (
			id, company_id, call_id, event_type, payload, created_at
		) VALUES (
			:id, :company_id, :call_id, :event_type, :payload, :created_at
		)
	`

	queryCountBehavioralEventsOlderThan = `
		SELECT COUNT(*)
		FROM behavioral_events
		WHERE created_at < :cutoff
	`

	queryDeleteBehavioralEventsOlderThan = `
		DELETE FROM behavioral_events
		WHERE created_at < :cutoff
	`

	queryCreateAuditLog = `
		INSERT INTO audit_logs (
			id, actor, action, detail, created_at
		) VALUES (
			:id, :actor, :action, :detail, :created_at
		)
	`

	queryListKnowledgeEntries = `
		SELECT
			id, company_id, trade, kind, question, answer,
			keywords, synonyms, is_active, created_at, updated_at
		FROM knowledge_entries
		WHERE kind = :kind
		AND is_active = true
		AND (company_id = :company_id OR (company_id = '' AND trade = :trade))
		ORDER BY updated_at DESC
	`

	queryGetLatestGovernanceConfig = `
		SELECT payload, version
		FROM governance_configs
		WHERE company_id = :company_id
		ORDER BY version DESC
		LIMIT 1
	`
)
