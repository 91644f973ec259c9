package stm

import "strings"

// Storage is the strategy used to store the attached tranlocals of a transaction.
type Storage uint8

const (
	StorageMono  Storage = iota // exactly one ref
	StorageArray                // fixed capacity
	StorageTree                 // unbounded, keyed by ref id
)

func (s Storage) String() string {
	switch s {
	case StorageMono:
		return "Mono"
	case StorageArray:
		return "Array"
	case StorageTree:
		return "ArrayTree"
	default:
		return "Unknown"
	}
}

// Tier is the feature tier of a transaction.
type Tier uint8

const (
	TierLean Tier = iota // plain reads and writes only
	TierFat              // every feature
)

func (t Tier) String() string {
	switch t {
	case TierLean:
		return "Lean"
	case TierFat:
		return "Fat"
	default:
		return "Unknown"
	}
}

// Feature represents transaction features as bit flags
type Feature uint64

const (
	FeatureCommute            Feature = 1 << iota // Support for Commute
	FeatureListeners                              // Support for Register and blocking retries
	FeaturePermanentListeners                     // Support for RegisterPermanent
	FeatureOrElse                                 // Support for OrElse
	FeatureUnbounded                              // The attached set never overflows
)

func (f Feature) String() string {
	switch f {
	case FeatureCommute:
		return "Commute"
	case FeatureListeners:
		return "Listeners"
	case FeaturePermanentListeners:
		return "PermanentListeners"
	case FeatureOrElse:
		return "OrElse"
	case FeatureUnbounded:
		return "Unbounded"
	default:
		return "Unknown"
	}
}

// Variant is one of the six transaction implementations (Storage x Tier).
type Variant struct {
	Storage Storage
	Tier    Tier
}

var (
	LeanMono      = Variant{Storage: StorageMono, Tier: TierLean}
	LeanArray     = Variant{Storage: StorageArray, Tier: TierLean}
	LeanArrayTree = Variant{Storage: StorageTree, Tier: TierLean}
	FatMono       = Variant{Storage: StorageMono, Tier: TierFat}
	FatArray      = Variant{Storage: StorageArray, Tier: TierFat}
	FatArrayTree  = Variant{Storage: StorageTree, Tier: TierFat}
)

// Variants lists all transaction variants.
var Variants = []Variant{LeanMono, LeanArray, LeanArrayTree, FatMono, FatArray, FatArrayTree}

func (v Variant) String() string {
	return v.Tier.String() + v.Storage.String()
}

// Features returns the features supported by the variant.
func (v Variant) Features() Feature {
	var f Feature
	if v.Tier == TierFat {
		f |= FeatureCommute | FeatureListeners | FeaturePermanentListeners | FeatureOrElse
	}
	if v.Storage == StorageTree {
		f |= FeatureUnbounded
	}
	return f
}

// SupportsFeature checks if the variant supports the specified features.
// Multiple features can be checked at once using bitwise OR (|) operator.
func (v Variant) SupportsFeature(feature Feature) bool {
	return v.Features()&feature == feature
}

// FeatureNames returns the names of the supported features.
func (v Variant) FeatureNames() string {
	var names []string
	for f := FeatureCommute; f <= FeatureUnbounded; f <<= 1 {
		if v.SupportsFeature(f) {
			names = append(names, f.String())
		}
	}
	return strings.Join(names, ",")
}
