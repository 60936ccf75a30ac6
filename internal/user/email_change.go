package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sketchdev/wrestler/internal/auth"
	"github.com/sketchdev/wrestler/internal/mail"
	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/pipeline"
)

// ChangeEmail は新しいメールアドレスを仮登録し、そのアドレスへ確認コードを送る。
// 確認が済むまで現在のアドレスは変わらない。
func (s *Service) ChangeEmail(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	pid := rc.PrincipalID()
	if pid == "" {
		return pipeline.Fail(model.NewAuthenticationError(auth.MessageMissingToken))
	}

	newEmail := normalizeEmail(rc.Body[model.FieldEmail])
	errs := model.FieldErrors{}
	if err := s.checkNewEmail(ctx, errs, model.FieldEmail, newEmail); err != nil {
		return pipeline.Fail(err)
	}
	if err := errs.Err(); err != nil {
		return pipeline.Fail(err)
	}

	code, expiresAt := s.issueCode()
	updated, err := s.update(ctx, pid, model.Document{
		model.FieldNewEmail:             newEmail,
		model.FieldChangeEmailCode:      code,
		model.FieldChangeEmailExpiresAt: expiresAt,
	})
	if err != nil {
		return pipeline.Fail(err)
	}
	if updated == nil {
		return pipeline.Fail(model.NewNotFoundError())
	}

	s.notify(ctx, rc, mail.TemplateChangeEmail, newEmail, code)
	return rc.NoContent()
}

// ConfirmChangeEmail は確認コードを照合してメールアドレスを切り替える。
// 仮登録後に同じアドレスが使われた場合は切り替えない。
func (s *Service) ConfirmChangeEmail(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	email := normalizeEmail(rc.Body[model.FieldEmail])
	code := rc.Body.String(model.FieldCode)

	errs := model.FieldErrors{}
	requirePresent(errs, map[string]string{model.FieldEmail: email, model.FieldCode: code})
	if err := errs.Err(); err != nil {
		return pipeline.Fail(err)
	}

	user, err := s.findByEmail(ctx, model.FieldNewEmail, email)
	if err != nil {
		return pipeline.Fail(err)
	}
	if user == nil {
		return pipeline.Fail(model.NewFieldError(model.FieldEmail, MsgNotFound))
	}
	if err := s.checkCode(user, model.FieldChangeEmailCode, model.FieldChangeEmailExpiresAt, code); err != nil {
		return pipeline.Fail(err)
	}

	n, err := s.store.CountBy(ctx, model.ResourceUser, model.Filter{model.FieldEmail: email})
	if err != nil {
		return pipeline.Fail(fmt.Errorf("failed to count users: %w", err))
	}
	if n > 0 {
		return pipeline.Fail(model.NewFieldError(model.FieldEmail, MsgTaken))
	}

	_, err = s.update(ctx, user.ID(), model.Document{
		model.FieldEmail:                email,
		model.FieldNewEmail:             nil,
		model.FieldChangeEmailCode:      nil,
		model.FieldChangeEmailExpiresAt: nil,
	})
	if err != nil {
		return pipeline.Fail(err)
	}

	rc.Log().Info("email changed", slog.String("user_id", user.ID()))
	return rc.NoContent()
}
