package database

var schema = []string{
	`CREATE TABLE IF NOT EXISTS kv_entries (
    profile_id VARCHAR(128) NOT NULL,
    entry_key VARCHAR(64) NOT NULL,
    entry_value MEDIUMTEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    PRIMARY KEY (profile_id, entry_key)
)`,
	`CREATE TABLE IF NOT EXISTS pricing_tiers (
    id VARCHAR(32) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    price_cents INT NOT NULL,
    currency VARCHAR(8) NOT NULL,
    credits INT NOT NULL,
    popular TINYINT(1) NOT NULL DEFAULT 0,
    stripe_price_id VARCHAR(128),
    features TEXT,
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    sort_order INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS payments (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    profile_id VARCHAR(128) NOT NULL,
    tier_id VARCHAR(32) NOT NULL,
    provider VARCHAR(32) NOT NULL,
    provider_ref VARCHAR(255),
    currency VARCHAR(8) NOT NULL,
    amount INT NOT NULL,
    credits INT NOT NULL,
    status VARCHAR(16) NOT NULL,
    raw_payload MEDIUMTEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_provider_ref (provider, provider_ref)
)`,
}
