package guardrails

import (
	"context"
	"log/slog"
	"strings"

	"github.com/haasonsaas/sidekick/internal/tracing"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Apology is sent when a retry still produces nothing usable.
const Apology = "Sorry, I couldn't come up with a proper reply. Could you rephrase? / Perdona, no he podido generar una respuesta. ¿Puedes reformular?"

// langNames for the bilingual remediation hint.
var langNames = map[string]string{
	"en": "English", "es": "Spanish", "pt": "Portuguese",
	"fr": "French", "de": "German", "it": "Italian",
}

// Remediate makes a single attempt to fix the first failed check. No
// recursion: the returned reply ships whether or not it is better, and
// the original scores stand.
//
// history is the conversation that produced the reply; the retry paths
// re-prompt over it. The remediation LLM call opens a generation span so
// the retry is visible in the trace.
func (p *Pipeline) Remediate(ctx context.Context, in Input, failure *Result, history []models.Message, tc *tracing.TraceContext, parentSpanID string) string {
	if failure == nil {
		return in.Reply
	}
	switch failure.Check {
	case CheckNoPII:
		// In-place redaction; no re-prompt needed.
		return failure.Redacted

	case CheckNotEmpty:
		retry, ok := p.retryOnce(ctx, failure, history, nil, tc, parentSpanID)
		if !ok || strings.TrimSpace(retry) == "" {
			return Apology
		}
		return retry

	case CheckLanguageMatch:
		lang := failure.LangCode
		name := langNames[lang]
		if name == "" {
			name = lang
		}
		hint := &models.Message{
			Role: models.RoleSystem,
			Content: "IMPORTANT: the user wrote in " + name + " (" + lang + "). Rewrite your reply ONLY in " + name + ". " +
				"IMPORTANTE: el usuario escribió en " + name + ". Reescribe tu respuesta SOLO en ese idioma.",
		}
		retry, ok := p.retryOnce(ctx, failure, history, hint, tc, parentSpanID)
		if !ok || strings.TrimSpace(retry) == "" {
			return in.Reply
		}
		return retry

	default:
		p.logger.Warn("guardrail failure passed through",
			slog.String("check", string(failure.Check)),
			slog.String("detail", failure.Detail))
		return in.Reply
	}
}

func (p *Pipeline) retryOnce(ctx context.Context, failure *Result, history []models.Message, hint *models.Message, tc *tracing.TraceContext, parentSpanID string) (string, bool) {
	if p.llm == nil {
		return "", false
	}
	msgs := make([]models.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	if hint != nil {
		msgs = append(msgs, *hint)
	}

	span := tc.StartSpan(ctx, "guardrails:remediation", models.SpanKindGeneration, parentSpanID, string(failure.Check))
	span.SetMetadata("check", string(failure.Check))
	if failure.LangCode != "" {
		span.SetMetadata("lang_code", failure.LangCode)
	}

	reply, usage, err := p.llm.Chat(ctx, msgs, false)
	if err != nil {
		span.End(ctx, models.TraceFailed, err.Error())
		p.logger.Warn("remediation retry failed",
			slog.String("check", string(failure.Check)), slog.Any("error", err))
		return "", false
	}
	if usage != nil {
		span.SetMetadata(tracing.MetaInputTokens, usage.InputTokens)
		span.SetMetadata(tracing.MetaOutputTokens, usage.OutputTokens)
	}
	span.End(ctx, models.TraceCompleted, reply)
	return reply, true
}
