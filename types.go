package mediastore

// Message type bitmask layout.
//
// The bitmask is a durable on-disk format: rows written by earlier versions
// must decode identically, so the numeric values below are frozen. The mask
// is split into disjoint regions (base type, attributes, group semantics,
// transport/security, extraction notices); updates must be masked
// read-modify-write so unrelated regions are never clobbered.
const (
	// TotalMask covers every bit the store may ever set.
	TotalMask int64 = 0xFFFFFFFF

	// BaseTypeMask selects the base type region: the message lifecycle state.
	// Exactly one base type value is encoded at a time.
	BaseTypeMask int64 = 0x1F

	BaseTypeInbox                   int64 = 20
	BaseTypeOutbox                  int64 = 21
	BaseTypeSending                 int64 = 22
	BaseTypeSent                    int64 = 23
	BaseTypeSentFailed              int64 = 24
	BaseTypePendingSecureFallback   int64 = 25
	BaseTypePendingInsecureFallback int64 = 26
	BaseTypeDraft                   int64 = 27
	BaseTypeDeleted                 int64 = 28

	// Message attribute region.
	ForceFallbackBit int64 = 0x40

	// Group semantics region.
	GroupUpdateBit           int64 = 0x10000
	GroupQuitBit             int64 = 0x20000
	ExpirationTimerUpdateBit int64 = 0x40000
	GroupLeavingBit          int64 = 0x80000

	// Transport and security region.
	PushBit       int64 = 0x200000
	EndSessionBit int64 = 0x400000
	SecureBit     int64 = 0x800000

	// Data extraction notices (screenshot taken, media saved).
	ScreenshotExtractionBit int64 = 0x1000000
	MediaSavedExtractionBit int64 = 0x2000000
)

// BaseType extracts the base type value from a mask.
func BaseType(mask int64) int64 {
	return mask & BaseTypeMask
}

// WithBaseType replaces the base type region of mask with base,
// leaving every other region untouched.
func WithBaseType(mask, base int64) int64 {
	return (mask &^ BaseTypeMask) | (base & BaseTypeMask)
}

// ApplyMask performs the masked read-modify-write used for every bitmask
// update: bits in maskOff are cleared, then bits in maskOn are set.
// Updates with disjoint mask regions commute.
func ApplyMask(value, maskOff, maskOn int64) int64 {
	return (value &^ maskOff) | maskOn
}

// IsOutgoingType reports whether the base type describes a locally
// originated message.
func IsOutgoingType(mask int64) bool {
	switch BaseType(mask) {
	case BaseTypeOutbox, BaseTypeSending, BaseTypeSent, BaseTypeSentFailed,
		BaseTypePendingSecureFallback, BaseTypePendingInsecureFallback:
		return true
	}
	return false
}

// IsInboxType reports whether the base type describes a received message.
func IsInboxType(mask int64) bool {
	return BaseType(mask) == BaseTypeInbox
}

// IsPendingType reports whether the message is awaiting a send decision
// (queued or waiting for a fallback approval).
func IsPendingType(mask int64) bool {
	switch BaseType(mask) {
	case BaseTypeOutbox, BaseTypeSending,
		BaseTypePendingSecureFallback, BaseTypePendingInsecureFallback:
		return true
	}
	return false
}

// IsSentType reports whether the message completed sending.
func IsSentType(mask int64) bool {
	return BaseType(mask) == BaseTypeSent
}

// IsFailedType reports whether the message failed to send.
func IsFailedType(mask int64) bool {
	return BaseType(mask) == BaseTypeSentFailed
}

// IsDeletedType reports whether the message was soft-deleted.
func IsDeletedType(mask int64) bool {
	return BaseType(mask) == BaseTypeDeleted
}

func IsSecureType(mask int64) bool {
	return mask&SecureBit != 0
}

func IsPushType(mask int64) bool {
	return mask&PushBit != 0
}

func IsForcedFallback(mask int64) bool {
	return mask&ForceFallbackBit != 0
}

func IsEndSession(mask int64) bool {
	return mask&EndSessionBit != 0
}

func IsExpirationTimerUpdate(mask int64) bool {
	return mask&ExpirationTimerUpdateBit != 0
}

func IsGroupUpdate(mask int64) bool {
	return mask&GroupUpdateBit != 0
}

func IsGroupQuit(mask int64) bool {
	return mask&GroupQuitBit != 0
}

func IsScreenshotExtraction(mask int64) bool {
	return mask&ScreenshotExtractionBit != 0
}

func IsMediaSavedExtraction(mask int64) bool {
	return mask&MediaSavedExtractionBit != 0
}
