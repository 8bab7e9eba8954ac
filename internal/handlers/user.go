package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/internal/service/auth"
)

type verificationRequest struct {
	Email   string                    `json:"email"`
	Purpose model.VerificationPurpose `json:"purpose"`
}

type confirmCodeRequest struct {
	TemporaryKey string `json:"temporaryKey"`
	Code         string `json:"code"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string         `json:"token"`
	Account *model.Account `json:"account"`
}

type resetPasswordRequest struct {
	TemporaryKey string `json:"temporaryKey"`
	Password     string `json:"password"`
}

type confirmEmailRequest struct {
	TemporaryKey string `json:"temporaryKey"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	Password        string `json:"password"`
}

type appealRequest struct {
	Body string `json:"body"`
}

func RequestVerification(verifications VerificationService) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := &verificationRequest{}
		if err := bind(c, req); err != nil {
			return err
		}
		key, err := verifications.RequestCode(c.Request().Context(), req.Email, req.Purpose)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, map[string]string{"temporaryKey": key})
	}
}

func ConfirmVerification(verifications VerificationService) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := &confirmCodeRequest{}
		if err := bind(c, req); err != nil {
			return err
		}
		v, err := verifications.ConfirmCode(c.Request().Context(), req.TemporaryKey, req.Code)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, v)
	}
}

func Register(accounts AuthService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.RegisterParams{}
		if err := bind(c, params); err != nil {
			return err
		}
		account, err := accounts.Register(c.Request().Context(), params)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, account)
	}
}

func Login(accounts AuthService) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := &loginRequest{}
		if err := bind(c, req); err != nil {
			return err
		}
		token, account, err := accounts.Login(c.Request().Context(), req.Email, req.Password)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, &loginResponse{Token: token, Account: account})
	}
}

func ResetPassword(accounts AuthService) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := &resetPasswordRequest{}
		if err := bind(c, req); err != nil {
			return err
		}
		if err := accounts.ResetPassword(c.Request().Context(), req.TemporaryKey, req.Password); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func ConfirmEmail(accounts AuthService) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := &confirmEmailRequest{}
		if err := bind(c, req); err != nil {
			return err
		}
		account, err := accounts.ConfirmEmail(c.Request().Context(), req.TemporaryKey)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, account)
	}
}

func ChangePassword(accounts AuthService) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := requireIdentity(c)
		if err != nil {
			return err
		}
		req := &changePasswordRequest{}
		if err := bind(c, req); err != nil {
			return err
		}
		if err := accounts.ChangePassword(c.Request().Context(), identity.AccountID, req.CurrentPassword, req.Password); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func GetAccount(accounts AuthService) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := requireIdentity(c)
		if err != nil {
			return err
		}
		account, err := accounts.Account(c.Request().Context(), identity.AccountID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, account)
	}
}

func UpdateProfile(accounts AuthService) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := requireIdentity(c)
		if err != nil {
			return err
		}
		params := &model.UpdateProfileParams{}
		if err := bind(c, params); err != nil {
			return err
		}
		profile, err := accounts.UpdateProfile(c.Request().Context(), identity.AccountID, params)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, profile)
	}
}

func DeleteAccount(accounts AuthService) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := requireIdentity(c)
		if err != nil {
			return err
		}
		if err := accounts.DeleteAccount(c.Request().Context(), identity.AccountID); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func GetProfile(accounts AuthService) echo.HandlerFunc {
	return func(c echo.Context) error {
		profile, err := accounts.Profile(c.Request().Context(), c.Param("username"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, profile)
	}
}

func SubmitAppeal(accounts AuthService) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := requireIdentity(c)
		if err != nil {
			return err
		}
		req := &appealRequest{}
		if err := bind(c, req); err != nil {
			return err
		}
		appeal, err := accounts.SubmitAppeal(c.Request().Context(), identity, req.Body)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, appeal)
	}
}

func ListAppeals(accounts AuthService) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := pageParams(c)
		if err != nil {
			return err
		}
		appeals, err := accounts.ListAppeals(c.Request().Context(), IdentityFrom(c), p.Limit, p.Offset)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, appeals)
	}
}

type transitionFunc func(c echo.Context, actor *model.Identity, id model.AccountID) (*model.Account, error)

// Transition applies an admin status change such as ban or promote to the
// account named by :id.
func Transition(accounts AuthService, action string) echo.HandlerFunc {
	apply := map[string]transitionFunc{
		"ban": func(c echo.Context, actor *model.Identity, id model.AccountID) (*model.Account, error) {
			return accounts.Ban(c.Request().Context(), actor, id)
		},
		"unban": func(c echo.Context, actor *model.Identity, id model.AccountID) (*model.Account, error) {
			return accounts.Unban(c.Request().Context(), actor, id)
		},
		"promote": func(c echo.Context, actor *model.Identity, id model.AccountID) (*model.Account, error) {
			return accounts.Promote(c.Request().Context(), actor, id)
		},
		"demote": func(c echo.Context, actor *model.Identity, id model.AccountID) (*model.Account, error) {
			return accounts.Demote(c.Request().Context(), actor, id)
		},
	}[action]
	if apply == nil {
		panic("unknown account transition " + action)
	}

	return func(c echo.Context) error {
		id, err := idParam(c, "id")
		if err != nil {
			return err
		}
		account, err := apply(c, IdentityFrom(c), model.AccountID(id))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, account)
	}
}

// JWKS publishes the key that verifies session tokens.
func JWKS(signer *auth.Signer) echo.HandlerFunc {
	return func(c echo.Context) error {
		keys, err := signer.JWKS()
		if err != nil {
			return err
		}
		return c.JSONBlob(http.StatusOK, keys)
	}
}
