package faucet

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opDuplicateCheck = "faucet.duplicate_guard.is_processed"
	opDuplicateMark  = "faucet.duplicate_guard.mark_processed"
	opAddressBind    = "faucet.address_guard.check_and_bind"
	opMentionClaim   = "faucet.mention_guard.try_claim_bonus"
)

// DuplicateClaimGuard enforces at-most-once processing per (account, post) pair.
type DuplicateClaimGuard struct {
	db *gorm.DB
}

// NewDuplicateClaimGuard constructs the guard.
func NewDuplicateClaimGuard(db *gorm.DB) (*DuplicateClaimGuard, error) {
	if db == nil {
		return nil, newServiceError(opDuplicateCheck, "missing_database", errMissingDatabase)
	}
	return &DuplicateClaimGuard{db: db}, nil
}

// IsProcessed reports whether the pair already reached a terminal outcome.
func (g *DuplicateClaimGuard) IsProcessed(ctx context.Context, accountID, postID int64) (bool, error) {
	var claim ProcessedClaim
	err := g.db.WithContext(ctx).Take(&claim, "claim_key = ?", claimKey(accountID, postID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, newServiceError(opDuplicateCheck, "claim_select_failed", err)
	}
	return true, nil
}

// MarkProcessed records the pair. Marking an already marked pair is a no-op so
// retries stay safe.
func (g *DuplicateClaimGuard) MarkProcessed(ctx context.Context, accountID, postID int64) error {
	claim := ProcessedClaim{ClaimKey: claimKey(accountID, postID)}
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&claim).Error
	if err != nil {
		return newServiceError(opDuplicateMark, "claim_insert_failed", err)
	}
	return nil
}

// BindOutcome classifies the relation between a payout address and the
// claiming account.
type BindOutcome int

const (
	// BindUnbound means the address was free and is now bound to the account.
	BindUnbound BindOutcome = iota
	// BindSameOwner means the address was already bound to this account.
	BindSameOwner
	// BindConflict means the address belongs to a different account. The
	// caller treats this as a fraud signal.
	BindConflict
)

// AddressOwnershipGuard pins payout addresses to the first claiming account.
type AddressOwnershipGuard struct {
	db *gorm.DB
}

// NewAddressOwnershipGuard constructs the guard.
func NewAddressOwnershipGuard(db *gorm.DB) (*AddressOwnershipGuard, error) {
	if db == nil {
		return nil, newServiceError(opAddressBind, "missing_database", errMissingDatabase)
	}
	return &AddressOwnershipGuard{db: db}, nil
}

// CheckAndBind binds a free address to the account, or reports who owns it.
// The owning account id is returned alongside BindConflict.
func (g *AddressOwnershipGuard) CheckAndBind(ctx context.Context, address string, accountID int64) (BindOutcome, int64, error) {
	var binding AddressBinding
	err := g.db.WithContext(ctx).Take(&binding, "address = ?", address).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		binding = AddressBinding{Address: address, AccountID: accountID}
		if err := g.db.WithContext(ctx).Create(&binding).Error; err != nil {
			return BindUnbound, 0, newServiceError(opAddressBind, "binding_insert_failed", err)
		}
		return BindUnbound, accountID, nil
	}
	if err != nil {
		return BindUnbound, 0, newServiceError(opAddressBind, "binding_select_failed", err)
	}
	if binding.AccountID == accountID {
		return BindSameOwner, accountID, nil
	}
	return BindConflict, binding.AccountID, nil
}

// FriendMentionGuard grants the elevated reward tier at most once per
// (account, mentioned account) pair.
type FriendMentionGuard struct {
	db *gorm.DB
}

// NewFriendMentionGuard constructs the guard.
func NewFriendMentionGuard(db *gorm.DB) (*FriendMentionGuard, error) {
	if db == nil {
		return nil, newServiceError(opMentionClaim, "missing_database", errMissingDatabase)
	}
	return &FriendMentionGuard{db: db}, nil
}

// TryClaimBonus records the pair and returns true only the first time it is
// presented.
func (g *FriendMentionGuard) TryClaimBonus(ctx context.Context, accountID, mentionedID int64) (bool, error) {
	claim := FriendMentionClaim{PairKey: mentionPairKey(accountID, mentionedID)}
	result := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&claim)
	if result.Error != nil {
		return false, newServiceError(opMentionClaim, "pair_insert_failed", result.Error)
	}
	return result.RowsAffected == 1, nil
}
