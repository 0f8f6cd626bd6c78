package price

import (
	"strings"

	"github.com/edibez/cryptochat/pkg/types"
)

// Record converts a market row. complete is false when the price or the 24h
// change is missing.
func (m MarketCoin) Record() (rec types.CoinRecord, complete bool) {
	rec = types.CoinRecord{
		ID:     m.ID,
		Symbol: strings.ToLower(m.Symbol),
		Name:   m.Name,
		Image:  m.Image,
	}
	if m.MarketCapRank != nil {
		rec.MarketCapRank = *m.MarketCapRank
	}
	if m.MarketCap != nil {
		rec.MarketCap = *m.MarketCap
	}
	if m.TotalVolume != nil {
		rec.Volume24h = *m.TotalVolume
	}
	if m.Change7dCur != nil {
		rec.Change7d = *m.Change7dCur
	}

	change := m.Change24h
	if change == nil {
		change = m.Change24hCur
	}
	if change != nil {
		rec.Change24h = *change
	}
	if m.CurrentPrice != nil {
		rec.CurrentPrice = *m.CurrentPrice
	}
	return rec, m.CurrentPrice != nil && change != nil
}

// Coin converts a trending item, reading the 24h change for currency when the
// provider sent it and falling back to usd.
func (t TrendingItem) Coin(currency string) types.TrendingCoin {
	coin := types.TrendingCoin{
		ID:        t.ID,
		Symbol:    strings.ToLower(t.Symbol),
		Name:      t.Name,
		Score:     t.Score,
		Price:     LooseNumber(t.Data.Price),
		MarketCap: LooseNumber(t.Data.MarketCap),
	}
	if t.MarketCapRank != nil {
		coin.MarketCapRank = *t.MarketCapRank
	}
	if v, ok := t.Data.Change[strings.ToLower(currency)]; ok {
		coin.Change24h = v
	} else if v, ok := t.Data.Change["usd"]; ok {
		coin.Change24h = v
	}
	return coin
}

// Market converts global totals for currency
func (g GlobalData) Market(currency string) types.GlobalMarket {
	cur := strings.ToLower(currency)
	return types.GlobalMarket{
		TotalMarketCap:  g.TotalMarketCap[cur],
		TotalVolume:     g.TotalVolume[cur],
		MarketCapChange: g.MarketCapChange24hUSD,
		ActiveCoins:     g.ActiveCryptocurrencies,
	}
}
