package domain

// correlationFields lists the identifier fields of a record in resolution
// priority: checkout request id, then merchant request id, then record id.
var correlationFields = []func(*TransactionRecord) string{
	func(r *TransactionRecord) string { return r.CheckoutRequestID },
	func(r *TransactionRecord) string { return r.MerchantRequestID },
	func(r *TransactionRecord) string { return r.ID },
}

// ResolveIndex returns the index of the record that any of ids resolves to,
// or -1. Fields are tried in priority order across the whole collection, so a
// checkout id match always beats a merchant id match on an earlier record.
// Within one field the earliest inserted record wins. Empty ids never match.
func ResolveIndex(records []TransactionRecord, ids ...string) int {
	for _, field := range correlationFields {
		for i := range records {
			v := field(&records[i])
			if v == "" {
				continue
			}
			for _, id := range ids {
				if id != "" && v == id {
					return i
				}
			}
		}
	}
	return -1
}

// Matches reports whether the record answers to any of ids.
func (r *TransactionRecord) Matches(ids ...string) bool {
	return ResolveIndex([]TransactionRecord{*r}, ids...) == 0
}
