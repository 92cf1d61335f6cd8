package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/peterfisher/canvas-parent/lib/restyutil"
	"github.com/peterfisher/canvas-parent/lib/timezone"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("scrapers/canvas")

var ErrLoginFailed = fmt.Errorf("Failed to login to your account.")

// non-2xx response from the portal
type StatusError struct {
	StatusCode int
	Url        string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Url, e.StatusCode)
}

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client
	cache   *PageCache
}

type ClientOptions struct {
	BaseUrl string
	// optional grade page cache, requests always hit the
	// network when nil
	Cache *PageCache
	// optional request/response transcript dump
	Output restyutil.InstrumentOutput
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	// 2 requests max per second
	// max burst >= 2 just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(2, 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	restyutil.InstrumentClient(client, tracer, opts.Output)

	c := &Client{
		BaseUrl: baseUrl,
		Http:    client,
		cache:   opts.Cache,
	}
	return c, nil
}

func csrfToken(doc *goquery.Document) string {
	token := doc.Find("meta[name=csrf-token]").AttrOr("content", "")
	if token != "" {
		return token
	}
	return doc.Find("input[name=authenticity_token]").AttrOr("value", "")
}

func (c *Client) hasSessionCookie() bool {
	for _, cookie := range c.Http.GetClient().Jar.Cookies(c.BaseUrl) {
		if strings.Contains(cookie.Name, "_session") && cookie.Value != "" {
			return true
		}
	}
	return false
}

func (c *Client) Login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get("/login/canvas")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch login page")
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse login page html")
		return err
	}

	token := csrfToken(doc)
	if token == "" {
		span.SetStatus(codes.Error, "failed to find csrf token")
		return fmt.Errorf("could not find csrf token on login page")
	}

	_, err = c.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"authenticity_token":           token,
			"pseudonym_session[unique_id]": username,
			"pseudonym_session[password]":  password,
		}).
		Post("/login/canvas")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make login request")
		return err
	}

	res, err = c.Http.R().
		SetContext(ctx).
		Get("/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to request dashboard after login")
		return err
	}
	doc, err = goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse dashboard html")
		return err
	}

	if len(doc.Find(`input[name="pseudonym_session[unique_id]"]`).Nodes) > 0 {
		span.SetStatus(codes.Error, ErrLoginFailed.Error())
		return ErrLoginFailed
	}
	if !c.hasSessionCookie() {
		span.SetStatus(codes.Error, "no session cookie after login")
		return ErrLoginFailed
	}

	return nil
}

type Course struct {
	Id   string
	Name string
}

func (c *Client) ActiveCourses(ctx context.Context) ([]Course, error) {
	ctx, span := tracer.Start(ctx, "client:ActiveCourses")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"enrollment_state": "active",
			"per_page":         "100",
		}).
		Get("/api/v1/courses")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch course list")
		return nil, err
	}
	if !res.IsSuccess() {
		err := StatusError{StatusCode: res.StatusCode(), Url: res.Request.URL}
		span.RecordError(err)
		span.SetStatus(codes.Error, "course list request rejected")
		return nil, err
	}

	var wire []struct {
		Id              int64  `json:"id"`
		Name            string `json:"name"`
		EnrollmentState string `json:"enrollment_state"`
	}
	err = json.Unmarshal(res.Body(), &wire)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal course list")
		return nil, err
	}

	var courses []Course
	for _, w := range wire {
		// access-restricted enrollments come back as bare ids
		if w.Name == "" {
			continue
		}
		if w.EnrollmentState != "active" {
			continue
		}
		courses = append(courses, Course{
			Id:   strconv.FormatInt(w.Id, 10),
			Name: w.Name,
		})
	}

	span.SetAttributes(attribute.Int("course_count", len(courses)))
	return courses, nil
}

const GRADE_PAGE_LIFETIME = int64(time.Minute * 45 / time.Second)

func (c *Client) GradesPage(ctx context.Context, course Course) (string, error) {
	ctx, span := tracer.Start(ctx, "client:GradesPage")
	defer span.End()

	endpoint := fmt.Sprintf("/courses/%s/grades", course.Id)
	span.SetAttributes(attribute.String("url", endpoint))

	if c.cache != nil {
		page, err := c.cache.get(ctx, endpoint)
		if err == nil {
			span.SetStatus(codes.Ok, "CACHE HIT")
			return string(page.Contents), nil
		}
		if err != errPageNotFound {
			span.RecordError(err)
		}
	}

	res, err := c.Http.R().
		SetContext(ctx).
		Get(endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch")
		return "", err
	}
	if !res.IsSuccess() {
		err := StatusError{StatusCode: res.StatusCode(), Url: res.Request.URL}
		span.RecordError(err)
		span.SetStatus(codes.Error, "grades page request rejected")
		return "", err
	}

	if c.cache != nil {
		err = c.cache.set(ctx, endpoint, webpage{
			Contents:  res.Body(),
			ExpiresAt: timezone.Now().Unix() + GRADE_PAGE_LIFETIME,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to cache request")
		}
	}

	return string(res.Body()), nil
}
