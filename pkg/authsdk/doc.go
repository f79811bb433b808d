/*
Package authsdk is the Go client for the Shutter authentication service.

The package also owns the wire types and error codes, so the server and its
clients decode the same JSON.

# Client vs Session

  - Client: unauthenticated calls. Registration, the sign-in flows, QR
    sessions on the initiating device, health and JWKS.
  - Session: a signed-in user. Profile, password, 2FA management, trusted
    devices and QR approval.

Every flow that ends in a signed-in user returns a Session:

	client := authsdk.NewClient("https://auth.example.com")

	session, resp, err := client.Login(ctx, authsdk.LoginRequest{
		Email:    "alice@example.com",
		Password: password,
	})
	if err != nil {
		return err
	}
	if resp.Requires2FA {
		session, _, err = client.VerifyTwoFactor(ctx, authsdk.TwoFactorVerifyRequest{
			SessionToken: resp.SessionToken,
			Code:         code,
		})
	}

# Sign-in flows

Password with optional TOTP or backup code, as above. Pass the DeviceToken
from an earlier RememberDevice verification to skip the second factor on a
trusted device.

QR login, on the device without credentials:

	qr, err := client.CreateQRSession(ctx, "Firefox on Linux")
	// show qr.QRImage, then
	st, err := client.PollQRSession(ctx, qr.SessionID, authsdk.PollOptions{})
	if st.Status == authsdk.QRStatusAuthenticated {
		session = client.NewSession(st.AuthResponse)
	}

and on the signed-in device that scanned it:

	_, err := session.ApproveQRSession(ctx, tokenFromURL)

Tokens reach the initiator on the first poll that sees the session
authenticated and never again.

Magic links: RequestMagicLink mails a link, VerifyMagicLink redeems its
token once.

# Token refresh

Sessions refresh the access token 30 seconds before it expires and keep the
new refresh token when the server rotates them. Refreshes are serialised, so
a Session can be shared between goroutines without spending a rotated token
twice.

# Errors

Server errors come back as *APIError and match the package sentinels with
errors.Is:

	_, _, err := client.Login(ctx, req)
	switch {
	case errors.Is(err, authsdk.ErrInvalidCredentials):
	case errors.Is(err, authsdk.ErrAccountLocked):
		var apiErr *authsdk.APIError
		errors.As(err, &apiErr)
		wait := apiErr.RetryAfter
	}
*/
package authsdk
