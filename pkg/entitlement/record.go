package entitlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rcourtman/tierengine/pkg/tiers"
)

// CurrentVersion is the schema version written by this package.
const CurrentVersion = 3

// Record is the persisted tier record for one user scope.
type Record struct {
	Tier     tiers.Name `json:"tier" validate:"required,tier"`
	SetAt    time.Time  `json:"setAt" validate:"required"`
	Version  int        `json:"version" validate:"gte=1"`
	Metadata *Metadata  `json:"metadata" validate:"required"`
}

// Metadata carries trial, payment and bookkeeping fields.
type Metadata struct {
	LastUpdated               *time.Time `json:"lastUpdated,omitempty"`
	IsWelcomeTrial            bool       `json:"isWelcomeTrial"`
	TrialStartDate            *time.Time `json:"trialStartDate,omitempty"`
	TrialEndDate              *time.Time `json:"trialEndDate,omitempty"`
	RequiresPaymentAfterTrial bool       `json:"requiresPaymentAfterTrial"`
	PaidSubscription          bool       `json:"paidSubscription"`
	Source                    string     `json:"source,omitempty"`
	UpdatedBy                 string     `json:"updatedBy,omitempty"`
	PaymentApprovedAt         *time.Time `json:"paymentApprovedAt,omitempty"`
}

// Metadata sources stamped by the convenience mutators.
const (
	SourceUpgrade   = "upgrade"
	SourceDowngrade = "downgrade"
	SourceTrial     = "welcome_trial"
	SourceTrialEnd  = "trial_expired"
	SourcePayment   = "payment"
)

func (m *Metadata) clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	c.LastUpdated = cloneTime(m.LastUpdated)
	c.TrialStartDate = cloneTime(m.TrialStartDate)
	c.TrialEndDate = cloneTime(m.TrialEndDate)
	c.PaymentApprovedAt = cloneTime(m.PaymentApprovedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

var (
	recordValidator     *validator.Validate
	recordValidatorOnce sync.Once
)

func getRecordValidator() *validator.Validate {
	recordValidatorOnce.Do(func() {
		v := validator.New()
		if err := v.RegisterValidation("tier", func(fl validator.FieldLevel) bool {
			if fl.Field().Kind() != reflect.String {
				return false
			}
			return tiers.IsValid(tiers.Name(fl.Field().String()))
		}); err != nil {
			panic(err)
		}
		recordValidator = v
	})
	return recordValidator
}

// ValidateRecord checks the structural invariants of a record: tier, setAt
// and metadata are present and tier is a catalog name.
func ValidateRecord(rec *Record) error {
	if rec == nil {
		return errors.New("record is required")
	}
	if err := getRecordValidator().Struct(rec); err != nil {
		return fmt.Errorf("invalid tier record: %w", err)
	}
	return nil
}

// DecodeRecord parses and validates a stored record.
func DecodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode tier record: %w", err)
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	if err := ValidateRecord(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// EncodeRecord validates and serializes a record.
func EncodeRecord(rec *Record) ([]byte, error) {
	if err := ValidateRecord(rec); err != nil {
		return nil, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode tier record: %w", err)
	}
	return data, nil
}
