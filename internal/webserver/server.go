package webserver

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pdvbar/comandas/internal/app"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	ApiPrefix = "/api"

	appContextKey = "appctx"
	staffKey      = "staff"
)

// Staff roles carried in the bearer token.
const (
	RoleManager = "MANAGER"
	RoleCashier = "CAIXA"
	RoleWaiter  = "GARCOM"
)

type route struct {
	method      string
	path        string
	handler     echo.HandlerFunc
	middlewares []echo.MiddlewareFunc
	public      bool
}

var (
	routesMu sync.Mutex
	routes   []route
)

func addRoute(r route) {
	routesMu.Lock()
	defer routesMu.Unlock()
	routes = append(routes, r)
}

func ApiGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	addRoute(route{method: http.MethodGet, path: path, handler: h, middlewares: m})
}

func ApiPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	addRoute(route{method: http.MethodPost, path: path, handler: h, middlewares: m})
}

func ApiPUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	addRoute(route{method: http.MethodPut, path: path, handler: h, middlewares: m})
}

func ApiDELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	addRoute(route{method: http.MethodDelete, path: path, handler: h, middlewares: m})
}

// PublicGET registers a GET route that skips token verification.
func PublicGET(path string, h echo.HandlerFunc) {
	addRoute(route{method: http.MethodGet, path: path, handler: h, public: true})
}

// StaffClaims identify the staff member behind a request. Subject holds the
// staff id.
type StaffClaims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// StaffID is the token subject.
func (c *StaffClaims) StaffID() string {
	return c.Subject
}

// IssueToken signs an HS256 staff token. Token issuance belongs to the
// login service; this helper serves tooling and tests.
func IssueToken(secret, staffID, name, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &StaffClaims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseStaffToken(secret string) func(c echo.Context, auth string) (interface{}, error) {
	return func(c echo.Context, auth string) (interface{}, error) {
		token, err := jwt.ParseWithClaims(auth, &StaffClaims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			return nil, err
		}
		claims, ok := token.Claims.(*StaffClaims)
		if !ok || !token.Valid || claims.Subject == "" {
			return nil, errors.New("invalid staff token")
		}
		switch claims.Role {
		case RoleManager, RoleCashier, RoleWaiter:
		default:
			return nil, fmt.Errorf("unknown role %q", claims.Role)
		}
		c.Set(staffKey, claims)
		return token, nil
	}
}

// GetStaff returns the verified claims of the request.
func GetStaff(c echo.Context) (*StaffClaims, bool) {
	claims, ok := c.Get(staffKey).(*StaffClaims)
	return claims, ok
}

// RequireRole rejects staff whose role is not listed.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			staff, ok := GetStaff(c)
			if !ok {
				return errorJSON(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing staff identity")
			}
			for _, r := range roles {
				if staff.Role == r {
					return next(c)
				}
			}
			return errorJSON(c, http.StatusForbidden, "FORBIDDEN", "Role not allowed: "+staff.Role)
		}
	}
}

// GetAppContext returns the application bound to the request.
func GetAppContext(c echo.Context) app.AppContext {
	return c.Get(appContextKey).(app.AppContext)
}

type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: v}
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

type jsonSerializer struct{}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := jsonAPI.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	err := jsonAPI.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body").SetInternal(err)
	}
	return nil
}

func errorJSON(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, map[string]interface{}{
		"code":    code,
		"message": msg,
	})
}

type AdminServer struct {
	root   *echo.Echo
	appCtx app.AppContext
}

func NewWebServer(appCtx app.AppContext) *AdminServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.OFF)
	e.JSONSerializer = jsonSerializer{}
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = httpErrorHandler

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			zap.L().Error("handler panic", zap.Error(err), zap.ByteString("stack", stack))
			return err
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID))
			return nil
		},
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(appContextKey, appCtx)
			return next(c)
		}
	})

	api := e.Group(ApiPrefix)
	auth := echojwt.WithConfig(echojwt.Config{
		ParseTokenFunc: parseStaffToken(appCtx.Config().Web.Secret),
		ErrorHandler: func(c echo.Context, err error) error {
			return errorJSON(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing token")
		},
	})

	routesMu.Lock()
	defer routesMu.Unlock()
	for _, r := range routes {
		var mw []echo.MiddlewareFunc
		if !r.public {
			mw = append(mw, auth)
		}
		mw = append(mw, r.middlewares...)
		api.Add(r.method, r.path, r.handler, mw...)
	}

	return &AdminServer{root: e, appCtx: appCtx}
}

func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	msg := http.StatusText(status)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		msg = fmt.Sprint(he.Message)
		switch status {
		case http.StatusNotFound:
			code = "NOT_FOUND"
		case http.StatusMethodNotAllowed:
			code = "METHOD_NOT_ALLOWED"
		case http.StatusBadRequest:
			code = "INVALID_REQUEST"
		case http.StatusUnauthorized:
			code = "UNAUTHORIZED"
		default:
			if status < 500 {
				code = strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
			}
		}
	} else {
		zap.L().Error("unhandled error", zap.String("uri", c.Request().RequestURI), zap.Error(err))
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = errorJSON(c, status, code, msg)
}

// Echo exposes the router, for tests.
func (s *AdminServer) Echo() *echo.Echo {
	return s.root
}

func (s *AdminServer) Start() error {
	cfg := s.appCtx.Config()
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	zap.S().Infof("Start admin server %s", addr)
	err := s.root.Start(addr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.root.Shutdown(ctx)
}
