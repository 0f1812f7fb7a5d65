package step

import (
	"database/sql"
	"net/http"
	"net/smtp"

	"github.com/dagflow/dagflow-go/flow/step/model"
)

// BuiltinOptions supplies the external resources the builtin handlers need.
// Zero values select safe fallbacks: default HTTP clients, queue-only email,
// environment-based LLM credentials, and a database_query handler that fails
// until a database is provided.
type BuiltinOptions struct {
	HTTPClient *http.Client
	DB         *sql.DB
	Models     model.Resolver
	SMTPAddr   string
	SMTPFrom   string
	SMTPAuth   smtp.Auth
}

// RegisterBuiltins registers every builtin handler on the registry.
func RegisterBuiltins(r *Registry, opts BuiltinOptions) error {
	handlers := map[string]Handler{
		"http_request":   NewHTTPRequestHandler(opts.HTTPClient),
		"webhook":        NewWebhookHandler(opts.HTTPClient),
		"delay":          DelayHandler{},
		"transform":      TransformHandler{},
		"send_email":     NewSendEmailHandler(opts.SMTPAddr, opts.SMTPFrom, opts.SMTPAuth),
		"database_query": NewDatabaseQueryHandler(opts.DB),
		"inline_expr":    InlineExprHandler{},
		"llm_call":       NewLLMCallHandler(opts.Models),
		"for_each":       ForEachHandler{},
	}
	for stepType, h := range handlers {
		if err := r.Register(stepType, h); err != nil {
			return err
		}
	}
	return nil
}
