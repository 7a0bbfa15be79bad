/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

const (
	// Balance queries
	queryGetBalance = `
		SELECT user_id, balance, version, updated_at
		FROM user_balances
		WHERE user_id = ?`

	queryInsertBalanceIfAbsent = `
		INSERT OR IGNORE INTO user_balances (user_id, balance, version, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)`

	queryUpdateBalance = `
		UPDATE user_balances
		SET balance = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?`

	queryUpsertBalance = `
		INSERT INTO user_balances (user_id, balance, version, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			balance = excluded.balance,
			version = user_balances.version + 1,
			updated_at = excluded.updated_at`

	queryListUsers = `
		SELECT user_id
		FROM user_balances
		ORDER BY created_at, user_id`

	// Threshold queries
	queryGetThreshold = `
		SELECT threshold
		FROM user_thresholds
		WHERE user_id = ?`

	queryUpsertThreshold = `
		INSERT INTO user_thresholds (user_id, threshold, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			threshold = excluded.threshold,
			updated_at = excluded.updated_at`

	// Lock queries
	queryIsLocked = `
		SELECT 1
		FROM user_locks
		WHERE user_id = ? AND expires_at > ?`

	queryUpsertLock = `
		INSERT INTO user_locks (user_id, locked_at, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			locked_at = excluded.locked_at,
			expires_at = excluded.expires_at`

	queryDeleteLock = `
		DELETE FROM user_locks WHERE user_id = ?`

	queryPurgeLocks = `
		DELETE FROM user_locks WHERE expires_at <= ?`

	// Payment queries
	queryUpsertPayment = `
		INSERT INTO payments (payment_id, user_id, requested_amount, status, amount_paid, created_at, completed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(payment_id) DO UPDATE SET
			status = excluded.status,
			amount_paid = excluded.amount_paid,
			completed_at = excluded.completed_at,
			expires_at = excluded.expires_at`

	queryGetPayment = `
		SELECT payment_id, user_id, requested_amount, status, amount_paid, created_at, completed_at
		FROM payments
		WHERE payment_id = ? AND expires_at > ?`

	queryPurgePayments = `
		DELETE FROM payments WHERE expires_at <= ?`

	// Monthly reset queries
	queryGetLastReset = `
		SELECT reset_at, budget, user_count, allocation
		FROM monthly_resets
		ORDER BY id DESC
		LIMIT 1`

	queryInsertReset = `
		INSERT INTO monthly_resets (reset_at, budget, user_count, allocation)
		VALUES (?, ?, ?, ?)`

	// Conversation queries
	queryInsertHistory = `
		INSERT INTO conversation_history (id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`

	queryTrimHistory = `
		DELETE FROM conversation_history
		WHERE user_id = ? AND rowid NOT IN (
			SELECT rowid FROM conversation_history
			WHERE user_id = ?
			ORDER BY rowid DESC
			LIMIT ?
		)`

	queryGetHistory = `
		SELECT role, content
		FROM conversation_history
		WHERE user_id = ?
		ORDER BY rowid`

	queryInsertWelcomed = `
		INSERT OR IGNORE INTO welcomed_users (channel_id, user_id) VALUES (?, ?)`
)
