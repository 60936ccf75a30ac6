package pipeline

import "context"

// Kind はステップの結果の種類。
type Kind int

const (
	// Continue は次のステップへ進む。
	Continue Kind = iota
	// Stop はレスポンスを書き込み済みとして以降のステップを打ち切る。
	Stop
	// StopWithError は以降のステップを打ち切り、Errをエラーレスポンスに変換する。
	StopWithError
)

// Outcome はステップの実行結果。
type Outcome struct {
	Kind Kind
	Err  error
}

// Next は次のステップへ進むOutcomeを返す。
func Next() Outcome {
	return Outcome{Kind: Continue}
}

// Done はパイプラインを正常終了するOutcomeを返す。
func Done() Outcome {
	return Outcome{Kind: Stop}
}

// Fail はエラーでパイプラインを停止するOutcomeを返す。errがnilの場合はDoneと同じ。
func Fail(err error) Outcome {
	if err == nil {
		return Done()
	}
	return Outcome{Kind: StopWithError, Err: err}
}

// Step はパイプラインの1段。
type Step func(ctx context.Context, rc *Context) Outcome
