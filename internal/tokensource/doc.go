// Package tokensource supplies upstream API keys as oauth2.TokenSource values.
//
// Providers authenticate with static API keys rather than OAuth2 flows, but modelling
// keys as tokens lets the upstream client reuse oauth2.Transport for bearer
// authentication and keeps key selection out of request code.
//
// # Stores
//
// A Store reads (and, where possible, writes) the raw key value of one provider. A raw
// value may hold several keys separated by commas:
//
//	store := tokensource.NewEnvStore("OPENAI", os.LookupEnv) // reads OPENAI_API_KEY
//	store := tokensource.NewKeyringStore("openai")           // OS keyring, service "vandamme"
//	store := tokensource.NewStaticStore([]string{"sk-a", "sk-b"})
//
// # Rotation
//
// Rotating hands out keys round-robin, one per upstream request:
//
//	ts, err := tokensource.FromStore(ctx, store)
//	client := &http.Client{Transport: &oauth2.Transport{Source: ts}}
package tokensource
