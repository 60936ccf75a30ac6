package model

// Principal は検証済みトークンから導出された呼び出し元を表す。
// Filterは認可で注入される所有者条件で、以降の読み書きすべてに重ねられる。
type Principal struct {
	ID     string
	Role   string
	Claims map[string]any
	Filter Filter
}

// OwnerFilter は所有者条件を返す。principalがnilの場合は空のフィルタを返す。
func (p *Principal) OwnerFilter() Filter {
	if p == nil || p.Filter == nil {
		return Filter{}
	}
	return p.Filter
}
