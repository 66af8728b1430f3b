package database

// Ordered migration statements. Each one is idempotent so the whole list can
// be re-applied on every startup.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    telegram_id BIGINT NOT NULL UNIQUE,
    username VARCHAR(255),
    first_name VARCHAR(255),
    credits DECIMAL(12,2) NOT NULL DEFAULT 0.00,
    extra_credits DECIMAL(12,2) NOT NULL DEFAULT 0.00,
    plan_sku VARCHAR(64) NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,

	`CREATE TABLE IF NOT EXISTS credit_ledger (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    delta DECIMAL(12,2) NOT NULL,
    reason VARCHAR(255) NOT NULL,
    provider VARCHAR(64),
    provider_ref VARCHAR(128),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_ledger_user (user_id),
    KEY idx_ledger_provider_ref (provider, provider_ref),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,

	`CREATE TABLE IF NOT EXISTS credit_holds (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    amount DECIMAL(12,2) NOT NULL,
    state VARCHAR(16) NOT NULL,
    reason VARCHAR(255) NOT NULL,
    provider VARCHAR(64),
    provider_ref VARCHAR(128),
    idempotency_key VARCHAR(128),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_hold_idem (idempotency_key),
    KEY idx_holds_user (user_id),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,

	`CREATE TABLE IF NOT EXISTS orders (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    kind VARCHAR(16) NOT NULL,
    sku VARCHAR(64) NOT NULL,
    amount_eur DECIMAL(12,2) NOT NULL,
    currency VARCHAR(8) NOT NULL,
    status VARCHAR(16) NOT NULL,
    provider VARCHAR(64) NOT NULL,
    provider_ref VARCHAR(128),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_orders_user (user_id),
    KEY idx_orders_provider_ref (provider, provider_ref),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,

	`CREATE TABLE IF NOT EXISTS generation_jobs (
    id VARCHAR(36) PRIMARY KEY,
    user_id BIGINT NOT NULL,
    tool VARCHAR(64) NOT NULL,
    params_json TEXT NOT NULL,
    cost DECIMAL(12,2) NOT NULL,
    hold_id BIGINT,
    status VARCHAR(16) NOT NULL,
    result_url TEXT,
    error_code VARCHAR(64),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_jobs_user (user_id),
    KEY idx_jobs_status (status),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,

	`CREATE TABLE IF NOT EXISTS last_results (
    user_id BIGINT NOT NULL,
    tool VARCHAR(64) NOT NULL,
    result_url TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    PRIMARY KEY (user_id, tool),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,

	`CREATE TABLE IF NOT EXISTS referral_links (
    code VARCHAR(16) PRIMARY KEY,
    inviter_user_id BIGINT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_ref_links_inviter (inviter_user_id),
    FOREIGN KEY (inviter_user_id) REFERENCES users(id)
)`,

	`CREATE TABLE IF NOT EXISTS referrals (
    inviter_user_id BIGINT NOT NULL,
    invitee_user_id BIGINT NOT NULL,
    first_seen_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    purchases_amount_eur DECIMAL(12,2) NOT NULL DEFAULT 0.00,
    PRIMARY KEY (invitee_user_id),
    KEY idx_referrals_inviter (inviter_user_id),
    FOREIGN KEY (inviter_user_id) REFERENCES users(id),
    FOREIGN KEY (invitee_user_id) REFERENCES users(id)
)`,
}
