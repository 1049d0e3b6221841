package mysql

const paymentColumns = `id, booking_id, guest_id, host_id, host_payout_account, currency, provider_reference,
  room_fee, cleaning_fee, security_deposit, service_fee, commission,
  actual_service_fee, fee_variance, fee_reconciled, status,
  room_fee_held, deposit_held, room_fee_frozen, deposit_frozen,
  room_fee_to_guest, room_fee_to_host, room_fee_to_platform, deposit_to_guest, deposit_to_host,
  review_required, review_detail, check_in, check_out, held_at, created_at, updated_at`

const insertPaymentSQL = `
INSERT INTO payments (` + paymentColumns + `)
VALUES (?,?,?,?,?,?,?, ?,?,?,?,?, ?,?,?,?, ?,?,?,?, ?,?,?,?,?, ?,?,?,?,?,?,?)
`

const updatePaymentSQL = `
UPDATE payments SET
  provider_reference = ?, service_fee = ?, commission = ?,
  actual_service_fee = ?, fee_variance = ?, fee_reconciled = ?, status = ?,
  room_fee_held = ?, deposit_held = ?, room_fee_frozen = ?, deposit_frozen = ?,
  room_fee_to_guest = ?, room_fee_to_host = ?, room_fee_to_platform = ?, deposit_to_guest = ?, deposit_to_host = ?,
  review_required = ?, review_detail = ?, held_at = ?, updated_at = ?
WHERE id = ?
`

const getPaymentSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`

const getPaymentByBookingSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = ?`

const hostMonthlyVolumeSQL = `
SELECT COALESCE(SUM(room_fee), 0)
FROM payments
WHERE host_id = ? AND status <> 'INITIATED' AND check_in >= ? AND check_in < ?
`

// Release candidates need a confirmed check-in whose release anchor has passed.
// Rows are paged by (check_in, id).
const listReleaseCandidatesSQL = `
SELECT ` + paymentColumns + `
FROM payments
WHERE room_fee_held = TRUE AND room_fee_frozen = FALSE AND review_required = FALSE AND check_in < ?
  AND EXISTS (
    SELECT 1 FROM bookings b
    WHERE b.id = payments.booking_id AND b.check_in_confirmed_at IS NOT NULL
      AND GREATEST(b.check_in_confirmed_at, b.check_in) < ?
  )
  AND (check_in > ? OR (check_in = ? AND id > ?))
ORDER BY check_in, id
LIMIT ?
`

const listDepositCandidatesSQL = `
SELECT ` + paymentColumns + `
FROM payments
WHERE deposit_held = TRUE AND deposit_frozen = FALSE AND review_required = FALSE AND check_out < ?
  AND (check_out > ? OR (check_out = ? AND id > ?))
ORDER BY check_out, id
LIMIT ?
`

const eventColumns = `id, booking_id, payment_id, type, amount, from_party, to_party, reference, provider_transfer_id, note, created_at`

const insertEventSQL = `INSERT INTO escrow_events (` + eventColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?)`

const findEventByReferenceSQL = `SELECT ` + eventColumns + ` FROM escrow_events WHERE reference = ?`

const listEventsSQL = `SELECT ` + eventColumns + ` FROM escrow_events WHERE booking_id = ? ORDER BY seq`

const disputeColumns = `id, booking_id, payment_id, subject, category, status, opened_by, responder, note,
  claimed_amount, cap_amount, settlements, claim_outcome, response, outcome, decided_by, admin_note,
  resolution, failure_detail, response_deadline, created_at, updated_at, resolved_at`

const insertDisputeSQL = `
INSERT INTO disputes (` + disputeColumns + `)
VALUES (?,?,?,?,?,?,?,?,?, ?,?,?,?,?,?,?,?, ?,?,?,?,?,?)
`

const updateDisputeSQL = `
UPDATE disputes SET
  status = ?, response = ?, outcome = ?, decided_by = ?, admin_note = ?,
  resolution = ?, failure_detail = ?, updated_at = ?, resolved_at = ?
WHERE id = ?
`

const getDisputeSQL = `SELECT ` + disputeColumns + ` FROM disputes WHERE id = ?`

const findActiveDisputeSQL = `
SELECT ` + disputeColumns + `
FROM disputes
WHERE booking_id = ? AND subject = ? AND status <> 'RESOLVED'
LIMIT 1
`

const listStaleDisputesSQL = `
SELECT ` + disputeColumns + `
FROM disputes
WHERE status = 'AWAITING_RESPONSE' AND response_deadline < ?
  AND (response_deadline > ? OR (response_deadline = ? AND id > ?))
ORDER BY response_deadline, id
LIMIT ?
`

const listStuckSettlementsSQL = `
SELECT ` + disputeColumns + `
FROM disputes
WHERE status = 'SETTLING' AND updated_at < ?
  AND (updated_at > ? OR (updated_at = ? AND id > ?))
ORDER BY updated_at, id
LIMIT ?
`

const walletColumns = `id, owner_type, owner_id, currency, available, pending, created_at, updated_at`

const ensureWalletSQL = `
INSERT IGNORE INTO wallets (id, owner_type, owner_id, currency, available, pending, created_at, updated_at)
VALUES (?, ?, ?, ?, 0, 0, ?, ?)
`

const lockWalletSQL = `SELECT ` + walletColumns + ` FROM wallets WHERE id = ? FOR UPDATE`

const getWalletSQL = `
SELECT ` + walletColumns + `
FROM wallets
WHERE owner_type = ? AND owner_id = ?
ORDER BY created_at
LIMIT 1
`

const updateWalletSQL = `UPDATE wallets SET available = ?, pending = ?, updated_at = ? WHERE id = ?`

const walletCurrencySQL = `SELECT currency FROM wallets WHERE id = ?`

// walletTxSelect joins the wallet so amounts convert with the wallet's currency.
const walletTxSelect = `
SELECT t.id, t.wallet_id, t.type, t.source, t.amount, t.reference, t.status, t.failure_reason,
  t.created_at, t.updated_at, w.currency
FROM wallet_transactions t
JOIN wallets w ON w.id = t.wallet_id
`

const insertWalletTxSQL = `
INSERT INTO wallet_transactions (id, wallet_id, type, source, amount, reference, status, failure_reason, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
`

const findWalletTxSQL = walletTxSelect + `WHERE t.wallet_id = ? AND t.reference = ?`

const lockWalletTxSQL = walletTxSelect + `WHERE t.id = ? FOR UPDATE`

const updateWalletTxSQL = `UPDATE wallet_transactions SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?`

const listWalletTxSQL = walletTxSelect + `WHERE t.wallet_id = ? ORDER BY t.seq DESC LIMIT ?`

const listWalletTxAfterSQL = walletTxSelect + `
WHERE t.wallet_id = ?
  AND t.seq < (SELECT c.seq FROM wallet_transactions c WHERE c.id = ? AND c.wallet_id = ?)
ORDER BY t.seq DESC
LIMIT ?
`

const getBookingSQL = `
SELECT id, guest_id, host_id, host_payout_account, property_id, status, check_in, check_out,
  check_in_confirmed_at, room_fee, cleaning_fee, security_deposit, currency
FROM bookings
WHERE id = ?
`

const upsertBookingSQL = `
INSERT INTO bookings (id, guest_id, host_id, host_payout_account, property_id, status, check_in, check_out,
  check_in_confirmed_at, room_fee, cleaning_fee, security_deposit, currency)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
  status = VALUES(status),
  host_payout_account = VALUES(host_payout_account),
  check_in = VALUES(check_in),
  check_out = VALUES(check_out),
  check_in_confirmed_at = VALUES(check_in_confirmed_at),
  room_fee = VALUES(room_fee),
  cleaning_fee = VALUES(cleaning_fee),
  security_deposit = VALUES(security_deposit)
`
