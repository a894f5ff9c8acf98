// Package vectorstore stores tool manifest vectors and ranks them by
// similarity.
//
// Store is implemented by one adapter per driver:
//
//   - NativeStore ("lancedb", alias "chromem"): embedded chromem-go database
//   - HTTPStore ("qdrant"): Qdrant REST API
//   - GRPCStore ("qdrant-grpc"): Qdrant gRPC API via the official client
//   - LocalStore ("local"): JSON file per collection, brute-force cosine
//
// The remote adapters degrade to a LocalStore when Initialize cannot reach
// or create the collection, loading <fallback_dir>/<collection>.json. While
// a remote backend is healthy every written record is mirrored in memory so
// a failed search can still be answered by brute force for that call.
// Set DisableFallback to surface every backend error instead.
//
// # Usage
//
//	store, err := vectorstore.NewStore(&cfg.VectorStore, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if err := store.Initialize(ctx, "tool_manifests"); err != nil {
//	    return err
//	}
//	hits, err := store.Search(ctx, queryVec, vectorstore.SearchOptions{Limit: 5})
package vectorstore
