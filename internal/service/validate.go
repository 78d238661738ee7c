package service

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/chatcore/internal/apperr"
	"github.com/chatcore/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// sanitize оставляет текст пользователя как есть, убирая только невалидный UTF-8
// и управляющие символы (кроме перевода строки и табуляции). Разметка не
// разбирается и не декодируется: контент хранится как plain text, экранирует
// его тот, кто рендерит. sanitize(sanitize(s)) == sanitize(s).
func sanitize(s string) string {
	s = strings.ToValidUTF8(s, string(utf8.RuneError))
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, s)
	return strings.TrimSpace(s)
}

func (s *Service) checkContent(raw string, required bool) (string, error) {
	content := sanitize(raw)
	if required && content == "" {
		return "", apperr.Validation(apperr.CodeInvalidContent, "content is empty")
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxContentLength {
		return "", apperr.Validation(apperr.CodeContentTooLong,
			fmt.Sprintf("content exceeds %d characters", s.cfg.MaxContentLength))
	}
	return content, nil
}

func (s *Service) checkAttachments(atts []model.Attachment) error {
	if len(atts) > s.cfg.MaxAttachments {
		return apperr.Validation(apperr.CodeInvalidAttachment,
			fmt.Sprintf("at most %d attachments", s.cfg.MaxAttachments))
	}
	for i := range atts {
		if err := validate.Struct(atts[i]); err != nil {
			return apperr.Validation(apperr.CodeInvalidAttachment, fmt.Sprintf("attachment %d: %s", i, fieldError(err)))
		}
	}
	return nil
}

func checkEmoji(emoji string) error {
	if err := validate.Var(emoji, "required,max=32"); err != nil || strings.TrimSpace(emoji) != emoji {
		return apperr.Validation(apperr.CodeInvalidEmoji, "invalid emoji")
	}
	return nil
}

func checkInput(v any) error {
	if err := validate.Struct(v); err != nil {
		return apperr.Validation(apperr.CodeInvalidInput, fieldError(err))
	}
	return nil
}

func fieldError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag())
	}
	return err.Error()
}
