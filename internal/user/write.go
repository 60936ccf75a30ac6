package user

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/sketchdev/wrestler/internal/codec"
	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/pipeline"
	"github.com/sketchdev/wrestler/internal/repository"
)

// prepareWrite はPUT・PATCHの本文を保存できる形に整えてから汎用CRUDに渡す。
func (s *Service) prepareWrite(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	if rc.Items != nil || rc.ID == "" {
		return pipeline.Next()
	}

	errs := model.FieldErrors{}
	fields, err := s.prepareFields(ctx, errs, "", rc.ID, rc.Body, rc.Method == http.MethodPut, ownerRestricted(rc))
	if err != nil {
		return pipeline.Fail(err)
	}
	if err := errs.Err(); err != nil {
		return pipeline.Fail(err)
	}

	rc.Body = fields
	return pipeline.Next()
}

// prepareFields は保護フィールドを除き、パスワードをハッシュ化し、メールアドレスを検証する。
// restrictedの場合は特権フィールドも除く。検証メッセージはprefixを付けてerrsに追加する。
func (s *Service) prepareFields(ctx context.Context, errs model.FieldErrors, prefix, id string, body model.Document, requireEmail, restricted bool) (model.Document, error) {
	fields := body.Without(model.UserProtectedFields...)
	if restricted {
		fields = fields.Without(model.UserPrivilegedFields...)
	}

	if v, ok := fields[model.FieldPassword]; ok {
		delete(fields, model.FieldPassword)
		password, _ := v.(string)
		if password == "" {
			errs.Add(prefix+model.FieldPassword, MsgRequired)
		} else {
			hash, err := s.hasher.Hash(password)
			if err != nil {
				return nil, err
			}
			for k, v := range hash.Fields() {
				fields[k] = v
			}
		}
	}

	if _, ok := fields[model.FieldEmail]; !ok {
		if requireEmail {
			errs.Add(prefix+model.FieldEmail, MsgRequired)
		}
		return fields, nil
	}

	email := normalizeEmail(fields[model.FieldEmail])
	fields[model.FieldEmail] = email
	switch {
	case email == "":
		errs.Add(prefix+model.FieldEmail, MsgRequired)
	case is.Email.Validate(email) != nil:
		errs.Add(prefix+model.FieldEmail, MsgInvalid)
	default:
		other, err := s.findByEmail(ctx, model.FieldEmail, email)
		if err != nil {
			return nil, err
		}
		if other != nil && other.ID() != id {
			errs.Add(prefix+model.FieldEmail, MsgTaken)
		}
	}

	return fields, nil
}

// BulkPatch は複数ユーザーへの部分更新を1つのトランザクションで適用する。
// 1件でも失敗した場合はすべての変更が破棄される。
func (s *Service) BulkPatch(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	if rc.Items == nil {
		return pipeline.Fail(model.NewBadRequestError("Expected a JSON array"))
	}

	type patch struct {
		id     string
		fields model.Document
	}
	patches := make([]patch, 0, len(rc.Items))
	errs := model.FieldErrors{}
	restricted := ownerRestricted(rc)
	// バッチ内で先に割り当てたメールアドレスと、その割り当て先
	claimed := map[string]string{}
	for i, item := range rc.Items {
		id, rest := codec.SplitID(item)
		if id == "" {
			return pipeline.Fail(model.NewBadRequestError(fmt.Sprintf("Item %d is missing an id", i)))
		}
		prefix := strconv.Itoa(i) + "."
		fields, err := s.prepareFields(ctx, errs, prefix, id, rest, false, restricted)
		if err != nil {
			return pipeline.Fail(err)
		}

		if email := fields.String(model.FieldEmail); email != "" && !errs.Has(prefix+model.FieldEmail) {
			if owner, ok := claimed[email]; ok && owner != id {
				errs.Add(prefix+model.FieldEmail, MsgTaken)
			} else {
				claimed[email] = id
			}
		}
		patches = append(patches, patch{id: id, fields: fields})
	}
	if err := errs.Err(); err != nil {
		return pipeline.Fail(err)
	}

	updated := make([]model.Document, 0, len(patches))
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.DocumentStore) error {
		for _, p := range patches {
			doc, err := s.rest.PatchOne(ctx, tx, rc, model.ResourceUser, p.id, p.fields)
			if err != nil {
				return err
			}
			updated = append(updated, doc)
		}
		return nil
	})
	if err != nil {
		return pipeline.Fail(err)
	}

	return rc.RespondDocuments(http.StatusOK, updated)
}
