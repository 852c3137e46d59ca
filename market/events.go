package market

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"keymarket/events"
)

const (
	// TypeKeysCreated marks a subject's key market opening.
	TypeKeysCreated = "keys.created"
	// TypeKeysTraded marks a settled buy or sell.
	TypeKeysTraded = "keys.traded"
)

// KeysCreated records a new subject entering the market.
type KeysCreated struct {
	Subject   string
	Creator   string
	CreatedAt int64
}

// Event converts the structured payload into a broadcastable event.
func (e KeysCreated) Event() events.Event {
	attrs := map[string]string{}
	if subject := strings.TrimSpace(e.Subject); subject != "" {
		attrs["subject"] = subject
	}
	if creator := strings.TrimSpace(e.Creator); creator != "" {
		attrs["creator"] = creator
	}
	if e.CreatedAt > 0 {
		attrs["createdAt"] = strconv.FormatInt(e.CreatedAt, 10)
	}
	return events.Event{Type: TypeKeysCreated, Attributes: attrs}
}

// KeysTraded records the outcome of a settled trade for analytics
// pipelines. Amounts are decimal strings so consumers never round-trip
// through floats.
type KeysTraded struct {
	TradeID     string
	Subject     string
	Account     string
	Referrer    string
	Side        Side
	Requested   decimal.Decimal
	Filled      decimal.Decimal
	TradeValue  decimal.Decimal
	CreatorFee  decimal.Decimal
	ProtocolFee decimal.Decimal
	ReferrerFee decimal.Decimal
	TotalCost   decimal.Decimal
	NewSupply   decimal.Decimal
	ExecutedAt  int64
}

// Event converts the structured payload into a broadcastable event.
func (e KeysTraded) Event() events.Event {
	attrs := map[string]string{
		"side": string(e.Side),
	}
	if id := strings.TrimSpace(e.TradeID); id != "" {
		attrs["tradeId"] = id
	}
	if subject := strings.TrimSpace(e.Subject); subject != "" {
		attrs["subject"] = subject
	}
	if account := strings.TrimSpace(e.Account); account != "" {
		attrs["account"] = account
	}
	if referrer := strings.TrimSpace(e.Referrer); referrer != "" {
		attrs["referrer"] = referrer
		attrs["referrerFee"] = e.ReferrerFee.String()
	}
	attrs["requested"] = e.Requested.String()
	attrs["filled"] = e.Filled.String()
	attrs["tradeValue"] = e.TradeValue.String()
	attrs["creatorFee"] = e.CreatorFee.String()
	attrs["protocolFee"] = e.ProtocolFee.String()
	attrs["totalCost"] = e.TotalCost.String()
	attrs["newSupply"] = e.NewSupply.String()
	if e.ExecutedAt > 0 {
		attrs["executedAt"] = strconv.FormatInt(e.ExecutedAt, 10)
	}
	return events.Event{Type: TypeKeysTraded, Attributes: attrs}
}
