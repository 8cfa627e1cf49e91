package apierr

// Field names used by older upstream deployments that answered with
// localized, flat error bodies, e.g. {"codigo": "...", "mensagem": "..."}.
var (
	legacyCodeKeys    = []string{"codigo", "erro"}
	legacyMessageKeys = []string{"mensagem", "mensaje", "msg"}
)

func legacyValue(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && asString(v) != "" {
			return v
		}
	}
	return nil
}
