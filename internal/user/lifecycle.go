package user

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/sketchdev/wrestler/internal/auth"
	"github.com/sketchdev/wrestler/internal/codec"
	"github.com/sketchdev/wrestler/internal/mail"
	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/pipeline"
)

// checkNewEmail はメールアドレスの必須・形式・重複を検証し、errsに追加する。
func (s *Service) checkNewEmail(ctx context.Context, errs model.FieldErrors, field, email string) error {
	if email == "" {
		errs.Add(field, MsgRequired)
		return nil
	}
	if err := is.Email.Validate(email); err != nil {
		errs.Add(field, MsgInvalid)
		return nil
	}

	n, err := s.store.CountBy(ctx, model.ResourceUser, model.Filter{model.FieldEmail: email})
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if n > 0 {
		errs.Add(field, MsgTaken)
	}
	return nil
}

// Register はユーザーを登録し、確認コードをメールで送る。
// 登録直後のユーザーは未確認で、確認が済むまでログインできない。
func (s *Service) Register(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	if rc.Items != nil {
		return pipeline.Fail(model.NewBadRequestError("Expected a JSON object"))
	}

	doc := rc.Body.Without(model.UserProtectedFields...)
	if ownerRestricted(rc) {
		doc = doc.Without(model.UserPrivilegedFields...)
	}
	email := normalizeEmail(doc[model.FieldEmail])
	password := doc.String(model.FieldPassword)

	errs := model.FieldErrors{}
	if err := s.checkNewEmail(ctx, errs, model.FieldEmail, email); err != nil {
		return pipeline.Fail(err)
	}
	if password == "" {
		errs.Add(model.FieldPassword, MsgRequired)
	}
	if err := errs.Err(); err != nil {
		return pipeline.Fail(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return pipeline.Fail(err)
	}
	delete(doc, model.FieldPassword)
	for k, v := range hash.Fields() {
		doc[k] = v
	}

	doc[model.FieldEmail] = email
	if doc.String(model.FieldRole) == "" && s.defaultRole != "" {
		doc[model.FieldRole] = s.defaultRole
	}
	if _, ok := doc[model.FieldActive]; !ok {
		doc[model.FieldActive] = true
	}
	code, expiresAt := s.issueCode()
	doc[model.FieldConfirmed] = false
	doc[model.FieldConfirmationCode] = code
	doc[model.FieldConfirmationExpiresAt] = expiresAt

	inserted, err := s.rest.Insert(ctx, rc, doc)
	if err != nil {
		return pipeline.Fail(err)
	}

	rc.Log().Info("user registered", slog.String("user_id", inserted.ID()))
	s.notify(ctx, rc, mail.TemplateConfirm, email, code)

	return s.rest.Created(rc, inserted)
}

// Confirm は確認コードを照合してユーザーを確認済みにする。
func (s *Service) Confirm(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	email := normalizeEmail(rc.Body[model.FieldEmail])
	code := rc.Body.String(model.FieldCode)

	errs := model.FieldErrors{}
	requirePresent(errs, map[string]string{model.FieldEmail: email, model.FieldCode: code})
	if err := errs.Err(); err != nil {
		return pipeline.Fail(err)
	}

	user, err := s.findByEmail(ctx, model.FieldEmail, email)
	if err != nil {
		return pipeline.Fail(err)
	}
	if user == nil {
		return pipeline.Fail(model.NewFieldError(model.FieldEmail, MsgNotFound))
	}
	if err := s.checkCode(user, model.FieldConfirmationCode, model.FieldConfirmationExpiresAt, code); err != nil {
		return pipeline.Fail(err)
	}

	_, err = s.update(ctx, user.ID(), model.Document{
		model.FieldConfirmed:             true,
		model.FieldConfirmationCode:      nil,
		model.FieldConfirmationExpiresAt: nil,
	})
	if err != nil {
		return pipeline.Fail(err)
	}

	rc.Log().Info("user confirmed", slog.String("user_id", user.ID()))
	return rc.NoContent()
}

// ResendConfirm は未確認ユーザーに新しい確認コードを送る。
// アカウントの有無を推測させないため、常に204を返す。
func (s *Service) ResendConfirm(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	email := normalizeEmail(rc.Body[model.FieldEmail])
	if email == "" {
		return pipeline.Fail(model.NewFieldError(model.FieldEmail, MsgRequired))
	}

	user, err := s.findByEmail(ctx, model.FieldEmail, email)
	if err != nil {
		return pipeline.Fail(err)
	}
	if user == nil || isTrue(user[model.FieldConfirmed]) {
		return rc.NoContent()
	}

	code, expiresAt := s.issueCode()
	_, err = s.update(ctx, user.ID(), model.Document{
		model.FieldConfirmationCode:      code,
		model.FieldConfirmationExpiresAt: expiresAt,
	})
	if err != nil {
		return pipeline.Fail(err)
	}

	s.notify(ctx, rc, mail.TemplateConfirm, email, code)
	return rc.NoContent()
}

// Login は認証情報を検証してトークンを発行する。
// 未登録・未確認・無効化・パスワード不一致はすべて同じエラーになる。
func (s *Service) Login(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	email := normalizeEmail(rc.Body[model.FieldEmail])
	password := rc.Body.String(model.FieldPassword)

	user, err := s.findByEmail(ctx, model.FieldEmail, email)
	if err != nil {
		return pipeline.Fail(err)
	}

	if !s.canLogin(user, password) {
		s.metrics.RecordLoginFailure()
		rc.Log().Info("login failed")
		return pipeline.Fail(model.NewLoginError())
	}

	token, err := s.tokens.Sign(codec.StripUserSecrets(user))
	if err != nil {
		return pipeline.Fail(err)
	}

	rc.Log().Info("user logged in", slog.String("user_id", user.ID()))
	return rc.Respond(http.StatusOK, map[string]string{"token": token})
}

func (s *Service) canLogin(user model.Document, password string) bool {
	if user == nil || password == "" {
		return false
	}
	if !isTrue(user[model.FieldConfirmed]) {
		return false
	}
	if active, ok := user[model.FieldActive].(bool); ok && !active {
		return false
	}
	stored, ok := auth.PasswordHashFromDocument(user)
	if !ok {
		return false
	}
	return s.hasher.Verify(password, stored)
}

// ForgotPassword はパスワード再設定コードを発行してメールで送る。常に204を返す。
func (s *Service) ForgotPassword(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	email := normalizeEmail(rc.Body[model.FieldEmail])
	if email == "" {
		return pipeline.Fail(model.NewFieldError(model.FieldEmail, MsgRequired))
	}

	user, err := s.findByEmail(ctx, model.FieldEmail, email)
	if err != nil {
		return pipeline.Fail(err)
	}
	if user == nil {
		return rc.NoContent()
	}

	code, expiresAt := s.issueCode()
	_, err = s.update(ctx, user.ID(), model.Document{
		model.FieldRecoveryCode:      code,
		model.FieldRecoveryExpiresAt: expiresAt,
	})
	if err != nil {
		return pipeline.Fail(err)
	}

	s.notify(ctx, rc, mail.TemplateRecover, email, code)
	return rc.NoContent()
}

// RecoverPassword は再設定コードを照合して新しいパスワードを設定する。
func (s *Service) RecoverPassword(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	email := normalizeEmail(rc.Body[model.FieldEmail])
	code := rc.Body.String(model.FieldCode)
	password := rc.Body.String(model.FieldPassword)

	errs := model.FieldErrors{}
	requirePresent(errs, map[string]string{
		model.FieldEmail:    email,
		model.FieldCode:     code,
		model.FieldPassword: password,
	})
	if err := errs.Err(); err != nil {
		return pipeline.Fail(err)
	}

	user, err := s.findByEmail(ctx, model.FieldEmail, email)
	if err != nil {
		return pipeline.Fail(err)
	}
	if user == nil {
		return pipeline.Fail(model.NewFieldError(model.FieldCode, MsgInvalid))
	}
	if err := s.checkCode(user, model.FieldRecoveryCode, model.FieldRecoveryExpiresAt, code); err != nil {
		return pipeline.Fail(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return pipeline.Fail(err)
	}
	fields := hash.Fields()
	fields[model.FieldRecoveryCode] = nil
	fields[model.FieldRecoveryExpiresAt] = nil

	if _, err := s.update(ctx, user.ID(), fields); err != nil {
		return pipeline.Fail(err)
	}

	rc.Log().Info("password recovered", slog.String("user_id", user.ID()))
	return rc.NoContent()
}
