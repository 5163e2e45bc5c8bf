package types

// RelayInfo is a relay information document (NIP-11) plus the storage
// pricing block served by paid research relays.
type RelayInfo struct {
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	PubKey        string           `json:"pubkey,omitempty"`
	Contact       string           `json:"contact,omitempty"`
	SupportedNIPs []int            `json:"supported_nips"`
	Software      string           `json:"software"`
	Version       string           `json:"version"`
	Limitation    *RelayLimitation `json:"limitation,omitempty"`
	PaymentsURL   string           `json:"payments_url,omitempty"`
	Fees          *RelayFees       `json:"fees,omitempty"`
	Pricing       *RelayPricing    `json:"pricing,omitempty"`
}

// RelayLimitation mirrors the NIP-11 limitation object.
type RelayLimitation struct {
	MaxMessageLength int  `json:"max_message_length"`
	MaxSubscriptions int  `json:"max_subscriptions"`
	MaxFilters       int  `json:"max_filters"`
	MaxLimit         int  `json:"max_limit"`
	MaxSubIDLength   int  `json:"max_subid_length"`
	MaxEventTags     int  `json:"max_event_tags"`
	MaxContentLength int  `json:"max_content_length"`
	MinPowDifficulty int  `json:"min_pow_difficulty"`
	AuthRequired     bool `json:"auth_required"`
	PaymentRequired  bool `json:"payment_required"`
	RestrictedWrites bool `json:"restricted_writes"`
}

type RelayFee struct {
	Amount int64  `json:"amount"`
	Unit   string `json:"unit"`
	Kinds  []int  `json:"kinds,omitempty"`
	Period int64  `json:"period,omitempty"`
}

type RelayFees struct {
	Admission    []RelayFee `json:"admission,omitempty"`
	Subscription []RelayFee `json:"subscription,omitempty"`
	Publication  []RelayFee `json:"publication,omitempty"`
}

// RelayPricing is the storage price list advertised by a paid relay.
type RelayPricing struct {
	PricePerMBYear     float64 `json:"price_per_mb_year"`
	PricePerCommentMB  float64 `json:"price_per_comment_mb"`
	MaxContentSize     int64   `json:"max_content_size"`
	StorageAvailableMB float64 `json:"storage_available_mb"`
}
