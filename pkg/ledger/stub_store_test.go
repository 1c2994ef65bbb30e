package ledger

import (
	"context"
	"sync"
	"testing"
	"time"
)

type stubStore struct {
	mutex       sync.Mutex
	wallets     map[UserID]Wallet
	intents     map[OrderID]PurchaseIntent
	entries     map[IdempotencyKey]IdempotencyEntry
	campaigns   map[CampaignID]Campaign
	tiers       map[RewardTierID]RewardTier
	pledges     map[IdempotencyKey]Pledge
	walletSeq   int
	failOn      string
	failWith    error
	inTx        bool
	txCallCount int
}

type stubSnapshot struct {
	wallets   map[UserID]Wallet
	intents   map[OrderID]PurchaseIntent
	entries   map[IdempotencyKey]IdempotencyEntry
	campaigns map[CampaignID]Campaign
	tiers     map[RewardTierID]RewardTier
	pledges   map[IdempotencyKey]Pledge
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		wallets:   make(map[UserID]Wallet),
		intents:   make(map[OrderID]PurchaseIntent),
		entries:   make(map[IdempotencyKey]IdempotencyEntry),
		campaigns: make(map[CampaignID]Campaign),
		tiers:     make(map[RewardTierID]RewardTier),
		pledges:   make(map[IdempotencyKey]Pledge),
	}
}

func (store *stubStore) failAt(method string, err error) {
	store.failOn = method
	store.failWith = err
}

func (store *stubStore) failure(method string) error {
	if store.failOn == method {
		return store.failWith
	}
	return nil
}

// WithTx serializes transactions and restores a snapshot when fn fails.
func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.txCallCount++
	snapshot := store.snapshot()
	store.inTx = true
	err := fn(ctx, &stubTx{store: store})
	store.inTx = false
	if err != nil {
		store.restore(snapshot)
	}
	return err
}

func (store *stubStore) snapshot() stubSnapshot {
	copyTiers := make(map[RewardTierID]RewardTier, len(store.tiers))
	for key, tier := range store.tiers {
		if tier.RemainingQuantity != nil {
			remaining := *tier.RemainingQuantity
			tier.RemainingQuantity = &remaining
		}
		copyTiers[key] = tier
	}
	return stubSnapshot{
		wallets:   cloneMap(store.wallets),
		intents:   cloneMap(store.intents),
		entries:   cloneMap(store.entries),
		campaigns: cloneMap(store.campaigns),
		tiers:     copyTiers,
		pledges:   cloneMap(store.pledges),
	}
}

func (store *stubStore) restore(snapshot stubSnapshot) {
	store.wallets = snapshot.wallets
	store.intents = snapshot.intents
	store.entries = snapshot.entries
	store.campaigns = snapshot.campaigns
	store.tiers = snapshot.tiers
	store.pledges = snapshot.pledges
}

func cloneMap[K comparable, V any](source map[K]V) map[K]V {
	cloned := make(map[K]V, len(source))
	for key, value := range source {
		cloned[key] = value
	}
	return cloned
}

func (store *stubStore) locked(fn func()) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	fn()
}

func (store *stubStore) IdempotencyEntryExists(ctx context.Context, key IdempotencyKey) (exists bool, err error) {
	store.locked(func() { exists, err = store.idempotencyEntryExists(key) })
	return exists, err
}

func (store *stubStore) InsertIdempotencyEntry(ctx context.Context, entry IdempotencyEntry) (err error) {
	store.locked(func() { err = store.insertIdempotencyEntry(entry) })
	return err
}

func (store *stubStore) GetOrCreateWallet(ctx context.Context, userID UserID) (wallet Wallet, err error) {
	store.locked(func() { wallet, err = store.getOrCreateWallet(userID) })
	return wallet, err
}

func (store *stubStore) GetWallet(ctx context.Context, userID UserID) (wallet Wallet, err error) {
	store.locked(func() { wallet, err = store.getWallet(userID) })
	return wallet, err
}

func (store *stubStore) CreditWallet(ctx context.Context, walletID WalletID, userID UserID, amount AmountDT, purchased AmountDT) (wallet Wallet, err error) {
	store.locked(func() { wallet, err = store.creditWallet(walletID, userID, amount, purchased) })
	return wallet, err
}

func (store *stubStore) DebitWallet(ctx context.Context, userID UserID, amount AmountDT) (wallet Wallet, err error) {
	store.locked(func() { wallet, err = store.debitWallet(userID, amount) })
	return wallet, err
}

func (store *stubStore) GetPurchaseIntent(ctx context.Context, orderID OrderID) (intent PurchaseIntent, err error) {
	store.locked(func() { intent, err = store.getPurchaseIntent(orderID) })
	return intent, err
}

func (store *stubStore) TransitionPurchaseIntent(ctx context.Context, orderID OrderID, from PurchaseStatus, to PurchaseStatus, providerTransactionID string) (err error) {
	store.locked(func() { err = store.transitionPurchaseIntent(orderID, from, to) })
	return err
}

func (store *stubStore) GetCampaign(ctx context.Context, campaignID CampaignID) (campaign Campaign, err error) {
	store.locked(func() { campaign, err = store.getCampaign(campaignID) })
	return campaign, err
}

func (store *stubStore) GetRewardTier(ctx context.Context, campaignID CampaignID, tierID RewardTierID) (tier RewardTier, err error) {
	store.locked(func() { tier, err = store.getRewardTier(campaignID, tierID) })
	return tier, err
}

func (store *stubStore) FindPledgeByIdempotencyKey(ctx context.Context, key IdempotencyKey) (pledge Pledge, err error) {
	store.locked(func() { pledge, err = store.findPledge(key) })
	return pledge, err
}

func (store *stubStore) InsertPledge(ctx context.Context, pledge Pledge) (err error) {
	store.locked(func() { err = store.insertPledge(pledge) })
	return err
}

func (store *stubStore) ApplyCampaignPledge(ctx context.Context, campaignID CampaignID, total AmountDT, now time.Time) (err error) {
	store.locked(func() { err = store.applyCampaignPledge(campaignID, total, now) })
	return err
}

func (store *stubStore) ConsumeRewardTier(ctx context.Context, campaignID CampaignID, tierID RewardTierID) (err error) {
	store.locked(func() { err = store.consumeRewardTier(campaignID, tierID) })
	return err
}

func (store *stubStore) idempotencyEntryExists(key IdempotencyKey) (bool, error) {
	if err := store.failure("IdempotencyEntryExists"); err != nil {
		return false, err
	}
	_, exists := store.entries[key]
	return exists, nil
}

func (store *stubStore) insertIdempotencyEntry(entry IdempotencyEntry) error {
	if err := store.failure("InsertIdempotencyEntry"); err != nil {
		return err
	}
	if _, exists := store.entries[entry.Key]; exists {
		return ErrDuplicateIdempotencyKey
	}
	store.entries[entry.Key] = entry
	return nil
}

func (store *stubStore) getOrCreateWallet(userID UserID) (Wallet, error) {
	if err := store.failure("GetOrCreateWallet"); err != nil {
		return Wallet{}, err
	}
	if wallet, exists := store.wallets[userID]; exists {
		return wallet, nil
	}
	store.walletSeq++
	walletID, err := NewWalletID("wallet-" + userID.String())
	if err != nil {
		return Wallet{}, err
	}
	wallet := Wallet{ID: walletID, UserID: userID}
	store.wallets[userID] = wallet
	return wallet, nil
}

func (store *stubStore) getWallet(userID UserID) (Wallet, error) {
	if err := store.failure("GetWallet"); err != nil {
		return Wallet{}, err
	}
	wallet, exists := store.wallets[userID]
	if !exists {
		return Wallet{}, ErrWalletNotFound
	}
	return wallet, nil
}

func (store *stubStore) creditWallet(walletID WalletID, userID UserID, amount AmountDT, purchased AmountDT) (Wallet, error) {
	if err := store.failure("CreditWallet"); err != nil {
		return Wallet{}, err
	}
	wallet, exists := store.wallets[userID]
	if !exists || wallet.ID != walletID {
		return Wallet{}, ErrWalletNotFound
	}
	wallet.BalanceDT += amount
	wallet.LifetimePurchasedDT += purchased
	store.wallets[userID] = wallet
	return wallet, nil
}

func (store *stubStore) debitWallet(userID UserID, amount AmountDT) (Wallet, error) {
	if err := store.failure("DebitWallet"); err != nil {
		return Wallet{}, err
	}
	wallet, exists := store.wallets[userID]
	if !exists || wallet.BalanceDT < amount {
		return Wallet{}, ErrInsufficientBalance
	}
	wallet.BalanceDT -= amount
	store.wallets[userID] = wallet
	return wallet, nil
}

func (store *stubStore) getPurchaseIntent(orderID OrderID) (PurchaseIntent, error) {
	intent, exists := store.intents[orderID]
	if !exists {
		return PurchaseIntent{}, ErrPurchaseIntentNotFound
	}
	return intent, nil
}

func (store *stubStore) transitionPurchaseIntent(orderID OrderID, from PurchaseStatus, to PurchaseStatus) error {
	if err := store.failure("TransitionPurchaseIntent"); err != nil {
		return err
	}
	intent, exists := store.intents[orderID]
	if !exists || intent.Status != from {
		return ErrPurchaseIntentClosed
	}
	intent.Status = to
	store.intents[orderID] = intent
	return nil
}

func (store *stubStore) getCampaign(campaignID CampaignID) (Campaign, error) {
	if err := store.failure("GetCampaign"); err != nil {
		return Campaign{}, err
	}
	campaign, exists := store.campaigns[campaignID]
	if !exists {
		return Campaign{}, ErrCampaignNotFound
	}
	return campaign, nil
}

func (store *stubStore) getRewardTier(campaignID CampaignID, tierID RewardTierID) (RewardTier, error) {
	tier, exists := store.tiers[tierID]
	if !exists || tier.CampaignID != campaignID {
		return RewardTier{}, ErrRewardTierNotFound
	}
	if tier.RemainingQuantity != nil {
		remaining := *tier.RemainingQuantity
		tier.RemainingQuantity = &remaining
	}
	return tier, nil
}

func (store *stubStore) findPledge(key IdempotencyKey) (Pledge, error) {
	pledge, exists := store.pledges[key]
	if !exists {
		return Pledge{}, ErrPledgeNotFound
	}
	return pledge, nil
}

func (store *stubStore) insertPledge(pledge Pledge) error {
	if err := store.failure("InsertPledge"); err != nil {
		return err
	}
	if _, exists := store.pledges[pledge.IdempotencyKey]; exists {
		return ErrDuplicateIdempotencyKey
	}
	store.pledges[pledge.IdempotencyKey] = pledge
	return nil
}

func (store *stubStore) applyCampaignPledge(campaignID CampaignID, total AmountDT, now time.Time) error {
	if err := store.failure("ApplyCampaignPledge"); err != nil {
		return err
	}
	campaign, exists := store.campaigns[campaignID]
	if !exists || !campaign.AcceptsPledgesAt(now) {
		return ErrCampaignNotActive
	}
	campaign.CurrentAmountDT += total
	campaign.BackerCount++
	store.campaigns[campaignID] = campaign
	return nil
}

func (store *stubStore) consumeRewardTier(campaignID CampaignID, tierID RewardTierID) error {
	if err := store.failure("ConsumeRewardTier"); err != nil {
		return err
	}
	tier, exists := store.tiers[tierID]
	if !exists || tier.CampaignID != campaignID || tier.SoldOut() {
		return ErrTierSoldOut
	}
	if tier.RemainingQuantity != nil {
		remaining := *tier.RemainingQuantity - 1
		tier.RemainingQuantity = &remaining
	}
	tier.PledgeCount++
	store.tiers[tierID] = tier
	return nil
}

// stubTx exposes the store's unlocked methods while WithTx holds the mutex.
type stubTx struct {
	store *stubStore
}

func (tx *stubTx) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, tx)
}

func (tx *stubTx) IdempotencyEntryExists(ctx context.Context, key IdempotencyKey) (bool, error) {
	return tx.store.idempotencyEntryExists(key)
}

func (tx *stubTx) InsertIdempotencyEntry(ctx context.Context, entry IdempotencyEntry) error {
	return tx.store.insertIdempotencyEntry(entry)
}

func (tx *stubTx) GetOrCreateWallet(ctx context.Context, userID UserID) (Wallet, error) {
	return tx.store.getOrCreateWallet(userID)
}

func (tx *stubTx) GetWallet(ctx context.Context, userID UserID) (Wallet, error) {
	return tx.store.getWallet(userID)
}

func (tx *stubTx) CreditWallet(ctx context.Context, walletID WalletID, userID UserID, amount AmountDT, purchased AmountDT) (Wallet, error) {
	return tx.store.creditWallet(walletID, userID, amount, purchased)
}

func (tx *stubTx) DebitWallet(ctx context.Context, userID UserID, amount AmountDT) (Wallet, error) {
	return tx.store.debitWallet(userID, amount)
}

func (tx *stubTx) GetPurchaseIntent(ctx context.Context, orderID OrderID) (PurchaseIntent, error) {
	return tx.store.getPurchaseIntent(orderID)
}

func (tx *stubTx) TransitionPurchaseIntent(ctx context.Context, orderID OrderID, from PurchaseStatus, to PurchaseStatus, providerTransactionID string) error {
	return tx.store.transitionPurchaseIntent(orderID, from, to)
}

func (tx *stubTx) GetCampaign(ctx context.Context, campaignID CampaignID) (Campaign, error) {
	return tx.store.getCampaign(campaignID)
}

func (tx *stubTx) GetRewardTier(ctx context.Context, campaignID CampaignID, tierID RewardTierID) (RewardTier, error) {
	return tx.store.getRewardTier(campaignID, tierID)
}

func (tx *stubTx) FindPledgeByIdempotencyKey(ctx context.Context, key IdempotencyKey) (Pledge, error) {
	return tx.store.findPledge(key)
}

func (tx *stubTx) InsertPledge(ctx context.Context, pledge Pledge) error {
	return tx.store.insertPledge(pledge)
}

func (tx *stubTx) ApplyCampaignPledge(ctx context.Context, campaignID CampaignID, total AmountDT, now time.Time) error {
	return tx.store.applyCampaignPledge(campaignID, total, now)
}

func (tx *stubTx) ConsumeRewardTier(ctx context.Context, campaignID CampaignID, tierID RewardTierID) error {
	return tx.store.consumeRewardTier(campaignID, tierID)
}

var fixedNow = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return fixedNow }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustOrderID(test *testing.T, raw string) OrderID {
	test.Helper()
	value, err := NewOrderID(raw)
	if err != nil {
		test.Fatalf("order id: %v", err)
	}
	return value
}

func mustCampaignID(test *testing.T, raw string) CampaignID {
	test.Helper()
	value, err := NewCampaignID(raw)
	if err != nil {
		test.Fatalf("campaign id: %v", err)
	}
	return value
}

func mustTierID(test *testing.T, raw string) RewardTierID {
	test.Helper()
	value, err := NewRewardTierID(raw)
	if err != nil {
		test.Fatalf("tier id: %v", err)
	}
	return value
}

func mustWallet(test *testing.T, store *stubStore, user string, balance int64) Wallet {
	test.Helper()
	userID := mustUserID(test, user)
	wallet, err := store.GetOrCreateWallet(context.Background(), userID)
	if err != nil {
		test.Fatalf("wallet: %v", err)
	}
	wallet.BalanceDT = AmountDT(balance)
	store.wallets[userID] = wallet
	return wallet
}

func mustPledgeRequest(test *testing.T, user string, campaign string, tier string, amount int64, extra int64, key string) PledgeRequest {
	test.Helper()
	request, err := NewPledgeRequest(user, campaign, tier, amount, extra, key, false, "")
	if err != nil {
		test.Fatalf("pledge request: %v", err)
	}
	return request
}

func int64Pointer(value int64) *int64 {
	return &value
}
