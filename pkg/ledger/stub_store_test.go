package ledger

import (
	"context"
	"sort"
	"sync"
	"testing"
)

type stubState struct {
	mu           sync.Mutex
	balances     map[AccountID]Balance
	transactions []Transaction
	featureCosts map[FeatureKey]FeatureCost
	packages     map[PackageID]TokenPackage
	purchases    map[PaymentReference]PendingPurchase
}

// stubStore serializes transactions on a mutex and restores a snapshot on rollback.
type stubStore struct {
	state *stubState
	inTx  bool

	getBalanceError        error
	ensureBalanceError     error
	incrementError         error
	decrementError         error
	insertTransactionError error
	findReferenceError     error
	findReferenceMisses    int
	listError              error
	featureCostError       error
	transitionError        error
	createPurchaseError    error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{state: &stubState{
		balances:     make(map[AccountID]Balance),
		featureCosts: make(map[FeatureKey]FeatureCost),
		packages:     make(map[PackageID]TokenPackage),
		purchases:    make(map[PaymentReference]PendingPurchase),
	}}
}

func (store *stubStore) lock() func() {
	if store.inTx {
		return func() {}
	}
	store.state.mu.Lock()
	return store.state.mu.Unlock
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	store.state.mu.Lock()
	defer store.state.mu.Unlock()
	snapshot := store.snapshot()
	transactionStore := *store
	transactionStore.inTx = true
	err := fn(ctx, &transactionStore)
	store.findReferenceMisses = transactionStore.findReferenceMisses
	if err != nil {
		store.restore(snapshot)
	}
	return err
}

type stubSnapshot struct {
	balances     map[AccountID]Balance
	transactions []Transaction
	purchases    map[PaymentReference]PendingPurchase
}

func (store *stubStore) snapshot() stubSnapshot {
	balances := make(map[AccountID]Balance, len(store.state.balances))
	for key, value := range store.state.balances {
		balances[key] = value
	}
	purchases := make(map[PaymentReference]PendingPurchase, len(store.state.purchases))
	for key, value := range store.state.purchases {
		purchases[key] = value
	}
	return stubSnapshot{
		balances:     balances,
		transactions: append([]Transaction(nil), store.state.transactions...),
		purchases:    purchases,
	}
}

func (store *stubStore) restore(snapshot stubSnapshot) {
	store.state.balances = snapshot.balances
	store.state.transactions = snapshot.transactions
	store.state.purchases = snapshot.purchases
}

func (store *stubStore) EnsureBalance(ctx context.Context, accountID AccountID) error {
	defer store.lock()()
	if store.ensureBalanceError != nil {
		return store.ensureBalanceError
	}
	if _, exists := store.state.balances[accountID]; !exists {
		store.state.balances[accountID] = Balance{AccountID: accountID}
	}
	return nil
}

func (store *stubStore) GetBalance(ctx context.Context, accountID AccountID) (Balance, error) {
	defer store.lock()()
	if store.getBalanceError != nil {
		return Balance{}, store.getBalanceError
	}
	balance, exists := store.state.balances[accountID]
	if !exists {
		return Balance{}, ErrUnknownAccount
	}
	return balance, nil
}

func (store *stubStore) IncrementBalance(ctx context.Context, accountID AccountID, amount PositiveTokenAmount, counter LifetimeCounter) (Balance, error) {
	defer store.lock()()
	if store.incrementError != nil {
		return Balance{}, store.incrementError
	}
	balance, exists := store.state.balances[accountID]
	if !exists {
		return Balance{}, ErrUnknownAccount
	}
	balance.Balance += amount.ToTokenAmount()
	switch counter {
	case CounterPurchased:
		balance.LifetimePurchased += amount.ToTokenAmount()
	default:
		balance.LifetimeEarned += amount.ToTokenAmount()
	}
	store.state.balances[accountID] = balance
	return balance, nil
}

func (store *stubStore) DecrementBalanceIfSufficient(ctx context.Context, accountID AccountID, amount TokenAmount) (Balance, error) {
	defer store.lock()()
	if store.decrementError != nil {
		return Balance{}, store.decrementError
	}
	balance, exists := store.state.balances[accountID]
	if !exists || balance.Balance < amount {
		return Balance{}, ErrInsufficientBalance
	}
	balance.Balance -= amount
	balance.LifetimeSpent += amount
	store.state.balances[accountID] = balance
	return balance, nil
}

func (store *stubStore) SetUnlimited(ctx context.Context, accountID AccountID, unlimited bool) error {
	defer store.lock()()
	balance, exists := store.state.balances[accountID]
	if !exists {
		return ErrUnknownAccount
	}
	balance.Unlimited = unlimited
	store.state.balances[accountID] = balance
	return nil
}

func (store *stubStore) InsertTransaction(ctx context.Context, transaction Transaction) error {
	defer store.lock()()
	if store.insertTransactionError != nil {
		return store.insertTransactionError
	}
	if !transaction.PaymentReference.IsZero() {
		for _, existing := range store.state.transactions {
			if existing.PaymentReference == transaction.PaymentReference {
				return ErrDuplicatePaymentReference
			}
		}
	}
	store.state.transactions = append(store.state.transactions, transaction)
	return nil
}

func (store *stubStore) FindTransactionByReference(ctx context.Context, reference PaymentReference) (Transaction, error) {
	defer store.lock()()
	if store.findReferenceError != nil {
		return Transaction{}, store.findReferenceError
	}
	if store.findReferenceMisses > 0 {
		store.findReferenceMisses--
		return Transaction{}, ErrUnknownTransaction
	}
	for _, existing := range store.state.transactions {
		if existing.PaymentReference == reference {
			return existing, nil
		}
	}
	return Transaction{}, ErrUnknownTransaction
}

func (store *stubStore) ListTransactions(ctx context.Context, accountID AccountID, limit int) ([]Transaction, error) {
	defer store.lock()()
	if store.listError != nil {
		return nil, store.listError
	}
	matching := make([]Transaction, 0, len(store.state.transactions))
	for index := len(store.state.transactions) - 1; index >= 0; index-- {
		if store.state.transactions[index].AccountID == accountID {
			matching = append(matching, store.state.transactions[index])
		}
	}
	if limit > 0 && len(matching) > limit {
		matching = matching[:limit]
	}
	return matching, nil
}

func (store *stubStore) FeatureCost(ctx context.Context, key FeatureKey) (FeatureCost, error) {
	defer store.lock()()
	if store.featureCostError != nil {
		return FeatureCost{}, store.featureCostError
	}
	featureCost, exists := store.state.featureCosts[key]
	if !exists {
		return FeatureCost{}, ErrConfigurationGap
	}
	return featureCost, nil
}

func (store *stubStore) ListFeatureCosts(ctx context.Context) ([]FeatureCost, error) {
	defer store.lock()()
	featureCosts := make([]FeatureCost, 0, len(store.state.featureCosts))
	for _, featureCost := range store.state.featureCosts {
		featureCosts = append(featureCosts, featureCost)
	}
	return featureCosts, nil
}

func (store *stubStore) UpsertFeatureCost(ctx context.Context, featureCost FeatureCost) error {
	defer store.lock()()
	store.state.featureCosts[featureCost.Key] = featureCost
	return nil
}

func (store *stubStore) TokenPackage(ctx context.Context, packageID PackageID) (TokenPackage, error) {
	defer store.lock()()
	tokenPackage, exists := store.state.packages[packageID]
	if !exists {
		return TokenPackage{}, ErrConfigurationGap
	}
	return tokenPackage, nil
}

func (store *stubStore) ListTokenPackages(ctx context.Context) ([]TokenPackage, error) {
	defer store.lock()()
	tokenPackages := make([]TokenPackage, 0, len(store.state.packages))
	for _, tokenPackage := range store.state.packages {
		tokenPackages = append(tokenPackages, tokenPackage)
	}
	sort.Slice(tokenPackages, func(left, right int) bool {
		return tokenPackages[left].ID.String() > tokenPackages[right].ID.String()
	})
	return tokenPackages, nil
}

func (store *stubStore) UpsertTokenPackage(ctx context.Context, tokenPackage TokenPackage) error {
	defer store.lock()()
	store.state.packages[tokenPackage.ID] = tokenPackage
	return nil
}

func (store *stubStore) CreatePendingPurchase(ctx context.Context, purchase PendingPurchase) error {
	defer store.lock()()
	if store.createPurchaseError != nil {
		return store.createPurchaseError
	}
	if _, exists := store.state.purchases[purchase.PaymentReference]; exists {
		return ErrPurchaseExists
	}
	store.state.purchases[purchase.PaymentReference] = purchase
	return nil
}

func (store *stubStore) GetPendingPurchase(ctx context.Context, reference PaymentReference) (PendingPurchase, error) {
	defer store.lock()()
	purchase, exists := store.state.purchases[reference]
	if !exists {
		return PendingPurchase{}, ErrUnknownPurchase
	}
	return purchase, nil
}

func (store *stubStore) TransitionPendingPurchase(ctx context.Context, reference PaymentReference, from []PurchaseStatus, to PurchaseStatus, atUnixUTC int64) (bool, error) {
	defer store.lock()()
	if store.transitionError != nil {
		return false, store.transitionError
	}
	purchase, exists := store.state.purchases[reference]
	if !exists {
		return false, nil
	}
	for _, status := range from {
		if purchase.Status == status {
			purchase.Status = to
			if to == PurchaseStatusCompleted {
				purchase.CompletedUnixUTC = atUnixUTC
			}
			store.state.purchases[reference] = purchase
			return true, nil
		}
	}
	return false, nil
}

func (store *stubStore) seedBalance(test *testing.T, accountID AccountID, balance int64, unlimited bool) {
	test.Helper()
	store.state.balances[accountID] = Balance{
		AccountID:      accountID,
		Balance:        mustTokenAmount(test, balance),
		LifetimeEarned: mustTokenAmount(test, balance),
		Unlimited:      unlimited,
	}
}

func (store *stubStore) seedFeatureCost(test *testing.T, key string, cost int64, active bool) {
	test.Helper()
	featureCost, err := NewFeatureCost(mustFeatureKey(test, key), cost, active, "")
	if err != nil {
		test.Fatalf("feature cost: %v", err)
	}
	store.state.featureCosts[featureCost.Key] = featureCost
}

func (store *stubStore) transactionsWithReference(reference PaymentReference) int {
	count := 0
	for _, transaction := range store.state.transactions {
		if transaction.PaymentReference == reference {
			count++
		}
	}
	return count
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 100 }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	value, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return value
}

func mustFeatureKey(test *testing.T, raw string) FeatureKey {
	test.Helper()
	value, err := NewFeatureKey(raw)
	if err != nil {
		test.Fatalf("feature key: %v", err)
	}
	return value
}

func mustPaymentReference(test *testing.T, raw string) PaymentReference {
	test.Helper()
	value, err := NewPaymentReference(raw)
	if err != nil {
		test.Fatalf("payment reference: %v", err)
	}
	return value
}

func mustPackageID(test *testing.T, raw string) PackageID {
	test.Helper()
	value, err := NewPackageID(raw)
	if err != nil {
		test.Fatalf("package id: %v", err)
	}
	return value
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	value, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return value
}

func mustTokenAmount(test *testing.T, raw int64) TokenAmount {
	test.Helper()
	value, err := NewTokenAmount(raw)
	if err != nil {
		test.Fatalf("token amount: %v", err)
	}
	return value
}

func mustPositiveAmount(test *testing.T, raw int64) PositiveTokenAmount {
	test.Helper()
	value, err := NewPositiveTokenAmount(raw)
	if err != nil {
		test.Fatalf("positive amount: %v", err)
	}
	return value
}
