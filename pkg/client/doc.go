// Package client calls a setpass server over HTTP.
//
// Operators provision reset tokens with an admin Keystone token:
//
//	c := client.New("https://setpass.example.org")
//	token, err := c.Provision(ctx, adminToken, "u-123", client.ProvisionRequest{
//	    Pin:      client.String("1234"),
//	    Password: client.String("current-password"),
//	})
//
// The token is then handed to the user, who redeems it through the HTML form
// or with Redeem:
//
//	err := c.Redeem(ctx, token, "1234", "new-password")
//	switch {
//	case errors.Is(err, client.ErrWrongPin):
//	    // ask again
//	case errors.Is(err, client.ErrAccountLocked):
//	    // re-provision
//	}
//
// Every failure is an *APIError carrying the status code and the server's
// plain-text message, and matches one of the sentinel errors with errors.Is.
package client
