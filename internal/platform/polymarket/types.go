package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Xenovative/PMBot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses parse regardless of which form the server picks.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from JSON number or numeric string. Gamma sends
// volume/liquidity as strings on some endpoints and numbers on others.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// APIMarket is the Gamma API market representation.
type APIMarket struct {
	ID              string    `json:"id"`
	Question        string    `json:"question"`
	Slug            string    `json:"slug"`
	ConditionID     string    `json:"conditionId"`
	ClobTokenIDs    string    `json:"clobTokenIds"` // JSON-encoded array inside a string
	EndDate         time.Time `json:"endDate"`
	Active          flexBool  `json:"active"`
	Closed          flexBool  `json:"closed"`
	AcceptingOrders flexBool  `json:"acceptingOrders"`
	Volume          flexFloat `json:"volume"`
	Liquidity       flexFloat `json:"liquidity"`
}

// ToDomainMarket converts the API representation to a domain.Market.
// The clobTokenIds field arrives as a JSON array encoded in a string;
// index 0 is the UP outcome token, index 1 the DOWN token. A market whose
// token ids are absent or malformed converts with both ids empty, which
// callers reject via domain.ErrMissingTokenIDs.
func (m APIMarket) ToDomainMarket() domain.Market {
	market := domain.Market{
		ID:              m.ID,
		Question:        m.Question,
		Slug:            m.Slug,
		ConditionID:     m.ConditionID,
		EndDate:         m.EndDate,
		Active:          bool(m.Active),
		Closed:          bool(m.Closed),
		AcceptingOrders: bool(m.AcceptingOrders),
		Volume:          float64(m.Volume),
		Liquidity:       float64(m.Liquidity),
	}

	if m.ClobTokenIDs != "" {
		var ids []string
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err == nil && len(ids) >= 2 {
			market.UpTokenID = ids[0]
			market.DownTokenID = ids[1]
		}
	}

	return market
}

// APIEvent is the Gamma API event representation. Up/down markets are
// grouped under an event carrying the searchable slug.
type APIEvent struct {
	ID      string      `json:"id"`
	Slug    string      `json:"slug"`
	Title   string      `json:"title"`
	Active  flexBool    `json:"active"`
	Closed  flexBool    `json:"closed"`
	Markets []APIMarket `json:"markets"`
}

// APIPriceResponse is the CLOB /price response.
type APIPriceResponse struct {
	Price flexFloat `json:"price"`
}

// APIBookLevel is one price level in a CLOB /book response.
type APIBookLevel struct {
	Price flexFloat `json:"price"`
	Size  flexFloat `json:"size"`
}

// APIBookResponse is the CLOB /book response.
type APIBookResponse struct {
	Market string         `json:"market"`
	Asks   []APIBookLevel `json:"asks"`
	Bids   []APIBookLevel `json:"bids"`
}

// Asks converts the ask side to domain levels, best (lowest) price first.
// The CLOB returns asks sorted worst-first, so the slice is reversed.
func (b APIBookResponse) ToDomainAsks() []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(b.Asks))
	for i := len(b.Asks) - 1; i >= 0; i-- {
		levels = append(levels, domain.PriceLevel{
			Price: float64(b.Asks[i].Price),
			Size:  float64(b.Asks[i].Size),
		})
	}
	return levels
}

// APIOrderResult is the CLOB /order response.
type APIOrderResult struct {
	Success        bool      `json:"success"`
	ErrorMsg       string    `json:"errorMsg"`
	OrderID        string    `json:"orderID"`
	Status         string    `json:"status"`
	TakingAmount   flexFloat `json:"takingAmount"`
	MakingAmount   flexFloat `json:"makingAmount"`
	TransactionsHashes []string `json:"transactionsHashes"`
}
