package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service contains the domain logic over a Store.
type Service struct {
	store               Store
	nowFn               func() time.Time
	newIDFn             func() string
	logger              OperationLogger
	supportMessageLimit int
}

const defaultSupportMessageLimit = 500

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:               store,
		nowFn:               now,
		newIDFn:             uuid.NewString,
		supportMessageLimit: defaultSupportMessageLimit,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// WithIDGenerator overrides how new pledge ids are minted.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newIDFn = generate
		}
	}
}

// CreditRequest carries the inputs of the atomic crediting procedure.
type CreditRequest struct {
	OrderID               OrderID
	ProviderTransactionID string
	WalletID              WalletID
	UserID                UserID
	DTAmount              AmountDT
	BonusDT               AmountDT
	IdempotencyKey        IdempotencyKey
}

// TotalDT is the balance increment the credit applies.
func (request CreditRequest) TotalDT() AmountDT {
	return request.DTAmount + request.BonusDT
}

// CreditResult reports the wallet balance after a credit.
type CreditResult struct {
	NewBalance       AmountDT
	AlreadyProcessed bool
}

// Credit applies a paid purchase exactly once per idempotency key.
// The ledger entry, the wallet increment and the intent transition commit together.
// A replayed key is not an error: the current balance is returned with AlreadyProcessed set.
func (service *Service) Credit(ctx context.Context, request CreditRequest) (CreditResult, error) {
	var result CreditResult
	metadata, err := creditMetadata(request)
	if err != nil {
		return CreditResult{}, err
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		entry := IdempotencyEntry{
			Key:          request.IdempotencyKey,
			UserID:       request.UserID,
			BalanceDelta: request.TotalDT().Int64(),
			Metadata:     metadata,
			CreatedAt:    service.nowFn(),
		}
		if err := transactionStore.InsertIdempotencyEntry(ctx, entry); err != nil {
			return err
		}
		wallet, err := transactionStore.CreditWallet(ctx, request.WalletID, request.UserID, request.TotalDT(), request.DTAmount)
		if err != nil {
			return err
		}
		if err := transactionStore.TransitionPurchaseIntent(ctx, request.OrderID, PurchaseStatusPending, PurchaseStatusPaid, request.ProviderTransactionID); err != nil {
			return err
		}
		result.NewBalance = wallet.BalanceDT
		return nil
	})
	status := ""
	if errors.Is(operationError, ErrDuplicateIdempotencyKey) {
		wallet, err := service.store.GetWallet(ctx, request.UserID)
		if err != nil {
			operationError = err
		} else {
			result = CreditResult{NewBalance: wallet.BalanceDT, AlreadyProcessed: true}
			operationError = nil
			status = operationStatusReplay
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationCredit,
		UserID:         request.UserID,
		OrderID:        request.OrderID,
		Amount:         request.TotalDT(),
		IdempotencyKey: request.IdempotencyKey,
		Status:         status,
		Error:          operationError,
	})
	if operationError != nil {
		return CreditResult{}, operationError
	}
	return result, nil
}

// IsProcessed reports whether an effect was already recorded under the key.
func (service *Service) IsProcessed(ctx context.Context, key IdempotencyKey) (bool, error) {
	return service.store.IdempotencyEntryExists(ctx, key)
}

// PurchaseIntent loads a purchase intent by its order id.
func (service *Service) PurchaseIntent(ctx context.Context, orderID OrderID) (PurchaseIntent, error) {
	return service.store.GetPurchaseIntent(ctx, orderID)
}

// ResolvePurchaseIntent moves a pending intent to a non-paid terminal status.
// Paid is reachable only through Credit.
func (service *Service) ResolvePurchaseIntent(ctx context.Context, orderID OrderID, to PurchaseStatus) error {
	if to == PurchaseStatusPaid || to == PurchaseStatusPending {
		return fmt.Errorf("%w: %s is not a resolution status", ErrInvalidPurchaseStatus, to)
	}
	return service.store.TransitionPurchaseIntent(ctx, orderID, PurchaseStatusPending, to, "")
}

// EnsureWallet returns the user's wallet, creating an empty one when absent.
func (service *Service) EnsureWallet(ctx context.Context, userID UserID) (Wallet, error) {
	return service.store.GetOrCreateWallet(ctx, userID)
}

// Wallet returns the user's wallet or an empty view when none exists yet.
func (service *Service) Wallet(ctx context.Context, userID UserID) (Wallet, error) {
	wallet, err := service.store.GetWallet(ctx, userID)
	if errors.Is(err, ErrWalletNotFound) {
		return Wallet{UserID: userID}, nil
	}
	return wallet, err
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func creditMetadata(request CreditRequest) (MetadataJSON, error) {
	raw, err := json.Marshal(map[string]any{
		"order_id":                request.OrderID.String(),
		"provider_transaction_id": request.ProviderTransactionID,
		"dt_amount":               request.DTAmount.Int64(),
		"bonus_dt":                request.BonusDT.Int64(),
	})
	if err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return NewMetadataJSON(string(raw))
}
