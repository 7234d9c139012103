// Package client provides a Go SDK for the hark HTTP API.
//
// Basic usage:
//
//	c, err := client.New("http://localhost:8000", client.WithAPIKey("secret"))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	f, err := c.UploadFile(ctx, "meeting.mp3", audioReader)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	t, err := c.CreateTranscription(ctx, f.FileID, client.CreateOptions{Priority: 10})
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Real-time progress can be consumed over the WebSocket event stream:
//
//	if err := c.ConnectWebSocket(ctx); err != nil {
//		log.Fatal(err)
//	}
//	for ev := range c.Events() {
//		fmt.Println(ev.Type, ev.Data)
//	}
package client
