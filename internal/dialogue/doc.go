// Package dialogue talks to the external dialogue engine.
//
// Each language runs its own engine instance; the language table maps a code
// to the REST webhook port and the action server port. Unknown codes resolve
// to the default language.
//
//	client := dialogue.NewClient(opts, dialogue.NewLanguages(cfg.Languages, "EN"))
//	utterances, err := client.Converse(ctx, "NL", "jd@eur.nl", "hello")
package dialogue
