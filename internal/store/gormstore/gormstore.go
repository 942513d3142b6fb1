package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/thanglish/pkg/account"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19

	errorOperationStore = "store"
	errorSubjectAccount = "account"
	errorSubjectPayment = "payment"
	errorCodeCreate     = "create"
	errorCodeDelete     = "delete"
	errorCodeGet        = "get"
	errorCodeInsert     = "insert"
	errorCodeInvalid    = "invalid"
	errorCodeList       = "list"
	errorCodeSave       = "save"
)

// Store implements account.Store using GORM. Every read-modify-write runs
// inside a transaction under a per-account lock, so concurrent updates for
// the same account can never drop each other's changes while unrelated
// accounts proceed in parallel.
type Store struct {
	db    *gorm.DB
	locks *keyedMutex
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db, locks: newKeyedMutex()}
}

// Migrate creates or updates the schema.
func (store *Store) Migrate() error {
	if err := store.db.AutoMigrate(&AccountRecord{}, &PaymentRecord{}); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

// GetOrCreate returns the existing record, merging any newly supplied profile
// hints last-write-wins per field, or creates a fresh record with zero
// balance, no trial, no plan, and empty history.
func (store *Store) GetOrCreate(ctx context.Context, accountID string, hints account.ProfileHints) (account.Account, error) {
	normalizedID, err := account.NewAccountID(accountID)
	if err != nil {
		return account.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	unlock := store.locks.lock(normalizedID)
	defer unlock()

	var result account.Account
	txErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, payments, found, loadErr := loadRecord(tx, normalizedID)
		if loadErr != nil {
			return loadErr
		}
		if !found {
			nowUTC := time.Now().UTC().Truncate(time.Second)
			fresh := account.Account{
				AccountID:      normalizedID,
				CreatedUnixUTC: nowUTC.Unix(),
				UpdatedUnixUTC: nowUTC.Unix(),
			}
			fresh.MergeProfile(hints)
			row := AccountRecord{AccountID: normalizedID}
			applyDomain(&row, fresh)
			if createErr := tx.Create(&row).Error; createErr != nil {
				// Another process won the create race; fall back to a read.
				if isUniqueViolation(createErr) {
					raced, racedPayments, racedFound, racedErr := loadRecord(tx, normalizedID)
					if racedErr != nil {
						return racedErr
					}
					if racedFound {
						result = mapToDomain(raced, racedPayments)
						return nil
					}
				}
				return wrapStoreError(errorSubjectAccount, errorCodeCreate, createErr)
			}
			result = fresh
			return nil
		}
		domain := mapToDomain(record, payments)
		if domain.MergeProfile(hints) {
			domain.UpdatedUnixUTC = time.Now().UTC().Unix()
			applyDomain(&record, domain)
			if saveErr := tx.Save(&record).Error; saveErr != nil {
				return wrapStoreError(errorSubjectAccount, errorCodeSave, saveErr)
			}
		}
		result = domain
		return nil
	})
	if txErr != nil {
		return account.Account{}, txErr
	}
	return result, nil
}

// Load fetches a record without taking the account lock; absence is reported
// via the boolean.
func (store *Store) Load(ctx context.Context, accountID string) (account.Account, bool, error) {
	normalizedID, err := account.NewAccountID(accountID)
	if err != nil {
		return account.Account{}, false, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	var result account.Account
	found := false
	txErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, payments, exists, loadErr := loadRecord(tx, normalizedID)
		if loadErr != nil {
			return loadErr
		}
		if !exists {
			return nil
		}
		result = mapToDomain(record, payments)
		found = true
		return nil
	})
	if txErr != nil {
		return account.Account{}, false, txErr
	}
	return result, found, nil
}

// Update is the only write path: it loads the full record, applies the
// mutator, and persists the result. A mutator error aborts the transaction
// with no persisted change and propagates unchanged to the caller.
func (store *Store) Update(ctx context.Context, accountID string, mutate account.Mutator) (account.Account, error) {
	normalizedID, err := account.NewAccountID(accountID)
	if err != nil {
		return account.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	unlock := store.locks.lock(normalizedID)
	defer unlock()

	var result account.Account
	txErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, payments, found, loadErr := loadRecord(tx, normalizedID)
		if loadErr != nil {
			return loadErr
		}
		if !found {
			return wrapStoreError(errorSubjectAccount, errorCodeGet, account.ErrAccountNotFound)
		}
		domain := mapToDomain(record, payments)
		before := domain.Clone()
		if mutateErr := mutate(&domain); mutateErr != nil {
			return mutateErr
		}
		applyDomain(&record, domain)
		if saveErr := tx.Save(&record).Error; saveErr != nil {
			return wrapStoreError(errorSubjectAccount, errorCodeSave, saveErr)
		}
		if syncErr := syncPayments(tx, normalizedID, before.Payments, domain.Payments); syncErr != nil {
			return syncErr
		}
		result = domain
		return nil
	})
	if txErr != nil {
		return account.Account{}, txErr
	}
	return result, nil
}

func loadRecord(tx *gorm.DB, accountID string) (AccountRecord, []PaymentRecord, bool, error) {
	var record AccountRecord
	err := tx.Where("account_id = ?", accountID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AccountRecord{}, nil, false, nil
	}
	if err != nil {
		return AccountRecord{}, nil, false, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	var payments []PaymentRecord
	err = tx.Where("account_id = ?", accountID).
		Order("created_at DESC, payment_id DESC").
		Limit(account.PaymentHistoryCap).
		Find(&payments).Error
	if err != nil {
		return AccountRecord{}, nil, false, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	return record, payments, true, nil
}

func syncPayments(tx *gorm.DB, accountID string, before []account.Payment, after []account.Payment) error {
	existing := make(map[string]struct{}, len(before))
	for _, payment := range before {
		existing[payment.PaymentID] = struct{}{}
	}
	// Oldest new payment first so created_at ordering matches arrival order.
	for index := len(after) - 1; index >= 0; index-- {
		payment := after[index]
		if _, ok := existing[payment.PaymentID]; ok {
			continue
		}
		row := mapPaymentRecord(accountID, payment)
		if err := tx.Create(&row).Error; err != nil {
			return wrapStoreError(errorSubjectPayment, errorCodeInsert, err)
		}
	}
	var count int64
	if err := tx.Model(&PaymentRecord{}).Where("account_id = ?", accountID).Count(&count).Error; err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	if count <= account.PaymentHistoryCap {
		return nil
	}
	var stale []PaymentRecord
	err := tx.Where("account_id = ?", accountID).
		Order("created_at ASC, payment_id ASC").
		Limit(int(count) - account.PaymentHistoryCap).
		Find(&stale).Error
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	if err := tx.Delete(&stale).Error; err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeDelete, err)
	}
	return nil
}

func mapToDomain(record AccountRecord, rows []PaymentRecord) account.Account {
	domain := account.Account{
		AccountID:          record.AccountID,
		DisplayName:        record.DisplayName,
		Email:              record.Email,
		AvatarURL:          record.AvatarURL,
		WalletBalanceCents: record.WalletBalanceCents,
		CreatedUnixUTC:     record.CreatedAt.Unix(),
		UpdatedUnixUTC:     record.UpdatedAt.Unix(),
	}
	if record.TrialGranted {
		domain.Trial = &account.Trial{
			StartedUnixUTC:  timeOrZero(record.TrialStartedAt),
			ExpiresUnixUTC:  timeOrZero(record.TrialExpiresAt),
			ConsumedMinutes: record.TrialConsumedMinutes,
			MaxMinutes:      record.TrialMaxMinutes,
			Active:          record.TrialActive,
		}
	}
	if record.PlanID != nil {
		domain.Plan = &account.ActivePlan{
			PlanID:           *record.PlanID,
			ActivatedUnixUTC: timeOrZero(record.PlanActivatedAt),
			ExpiresUnixUTC:   timeOrZero(record.PlanExpiresAt),
			RemainingMinutes: record.PlanRemainingMinutes,
		}
	}
	for _, row := range rows {
		domain.Payments = append(domain.Payments, mapPayment(row))
	}
	return domain
}

func applyDomain(record *AccountRecord, domain account.Account) {
	record.DisplayName = domain.DisplayName
	record.Email = domain.Email
	record.AvatarURL = domain.AvatarURL
	record.WalletBalanceCents = domain.WalletBalanceCents
	record.CreatedAt = time.Unix(domain.CreatedUnixUTC, 0).UTC()
	record.UpdatedAt = time.Unix(domain.UpdatedUnixUTC, 0).UTC()

	record.TrialGranted = domain.Trial != nil
	if domain.Trial != nil {
		record.TrialStartedAt = timePointer(domain.Trial.StartedUnixUTC)
		record.TrialExpiresAt = timePointer(domain.Trial.ExpiresUnixUTC)
		record.TrialConsumedMinutes = domain.Trial.ConsumedMinutes
		record.TrialMaxMinutes = domain.Trial.MaxMinutes
		record.TrialActive = domain.Trial.Active
	}

	if domain.Plan != nil {
		planID := domain.Plan.PlanID
		record.PlanID = &planID
		record.PlanActivatedAt = timePointer(domain.Plan.ActivatedUnixUTC)
		record.PlanExpiresAt = timePointer(domain.Plan.ExpiresUnixUTC)
		record.PlanRemainingMinutes = domain.Plan.RemainingMinutes
	} else {
		record.PlanID = nil
		record.PlanActivatedAt = nil
		record.PlanExpiresAt = nil
		record.PlanRemainingMinutes = 0
	}
}

func mapPayment(row PaymentRecord) account.Payment {
	payment := account.Payment{
		PaymentID:        row.PaymentID,
		Kind:             account.PaymentKind(row.Kind),
		GatewayOrderID:   row.GatewayOrderID,
		GatewayPaymentID: row.GatewayPaymentID,
		AmountCents:      row.AmountCents,
		MetadataJSON:     string(row.Metadata),
		CreatedUnixUTC:   row.CreatedAt.Unix(),
	}
	if row.PlanID != nil {
		payment.PlanID = *row.PlanID
	}
	return payment
}

func mapPaymentRecord(accountID string, payment account.Payment) PaymentRecord {
	row := PaymentRecord{
		PaymentID:        payment.PaymentID,
		AccountID:        accountID,
		Kind:             string(payment.Kind),
		GatewayOrderID:   payment.GatewayOrderID,
		GatewayPaymentID: payment.GatewayPaymentID,
		AmountCents:      payment.AmountCents,
		Metadata:         datatypesJSON(payment.MetadataJSON),
		CreatedAt:        time.Unix(payment.CreatedUnixUTC, 0).UTC(),
	}
	if payment.PlanID != "" {
		planID := payment.PlanID
		row.PlanID = &planID
	}
	return row
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func timePointer(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func wrapStoreError(subject string, code string, err error) error {
	return account.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
