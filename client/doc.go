// Package client provides a Go client library for the Worldsmith platform
// API.
//
// The client wraps the world lifecycle endpoints (launch, shutdown, restart),
// instance inspection, edit-lock queries, engine log polling and snapshot
// migration behind typed methods. It deliberately mirrors the wire types
// instead of importing the server packages, so programs embedding it do not
// pull in the platform's process-supervision or database dependencies.
//
// # Basic Usage
//
//	c := client.New("https://worlds.example.com", token)
//
//	info, err := c.LaunchWorld(context.Background(), "w-123", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	log.Printf("world %s running at %s", info.WorldID, info.URL)
//
//	defer c.ShutdownWorld(context.Background(), "w-123")
//
// # Configuration Options
//
// The client can be configured with functional options:
//
//	c := client.New("https://worlds.example.com", token,
//		client.WithHTTPClient(&http.Client{Timeout: 5 * time.Minute}),
//	)
//
// Launching a world blocks until the engine reports healthy, so the HTTP
// client timeout must cover the platform's boot window.
//
// # Error Handling
//
// Errors are structured. A mutation rejected because the world is live comes
// back as a locked error carrying the full lock verdict:
//
//	if err := c.ImportWorldData(ctx, "w-123", archive); err != nil {
//		if lock := client.LockInfo(err); lock != nil {
//			log.Printf("world is %s: %s", lock.Status, lock.Reason)
//		} else {
//			log.Fatal(err)
//		}
//	}
//
// # Thread Safety
//
// The client holds no mutable state and can be used concurrently from
// multiple goroutines.
package client
