package model

// ユーザードキュメントのフィールド名
const (
	FieldEmail                 = "email"
	FieldPassword              = "password"
	FieldPasswordHash          = "passwordHash"
	FieldSalt                  = "salt"
	FieldIterations            = "iterations"
	FieldKeylen                = "keylen"
	FieldDigest                = "digest"
	FieldRole                  = "role"
	FieldActive                = "active"
	FieldConfirmed             = "confirmed"
	FieldConfirmationCode      = "confirmationCode"
	FieldConfirmationExpiresAt = "confirmationExpiresAt"
	FieldRecoveryCode          = "recoveryCode"
	FieldRecoveryExpiresAt     = "recoveryExpiresAt"
	FieldNewEmail              = "newEmail"
	FieldChangeEmailCode       = "changeEmailCode"
	FieldChangeEmailExpiresAt  = "changeEmailExpiresAt"
	FieldCode                  = "code"
)

// UserSecretFields は外部に出力してはならないユーザーフィールド。
var UserSecretFields = []string{
	FieldPassword,
	FieldPasswordHash,
	FieldSalt,
	FieldIterations,
	FieldKeylen,
	FieldDigest,
	FieldConfirmationCode,
	FieldConfirmationExpiresAt,
	FieldRecoveryCode,
	FieldRecoveryExpiresAt,
	FieldChangeEmailCode,
	FieldChangeEmailExpiresAt,
}

// UserProtectedFields はクライアントから直接書き込めないユーザーフィールド。
// パスワードは専用の経路でハッシュ化され、確認状態は確認コードでのみ変わる。
var UserProtectedFields = []string{
	FieldConfirmed,
	FieldPasswordHash,
	FieldSalt,
	FieldIterations,
	FieldKeylen,
	FieldDigest,
	FieldConfirmationCode,
	FieldConfirmationExpiresAt,
	FieldRecoveryCode,
	FieldRecoveryExpiresAt,
	FieldNewEmail,
	FieldChangeEmailCode,
	FieldChangeEmailExpiresAt,
}

// UserPrivilegedFields は所有者として自分のユーザーを書き換える呼び出し元には変更させないフィールド。
// 所有者条件なしで許可されたロールだけが設定できる。
var UserPrivilegedFields = []string{
	FieldRole,
	FieldActive,
}
