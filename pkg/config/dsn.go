package config

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const defaultPostgresPort = 5432

// ApplyURL overwrites the connection fields with the ones encoded in URL.
// Both postgres:// and postgresql:// are accepted; sslmode defaults to
// disable and other query parameters are kept as extra DSN options.
func (c *DatabaseConfig) ApplyURL() error {
	if c.URL == "" {
		return nil
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("invalid database URL scheme: %s (expected postgres or postgresql)", u.Scheme)
	}

	port := defaultPostgresPort
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return fmt.Errorf("invalid port in database URL: %w", err)
		}
	}

	c.Host = u.Hostname()
	c.Port = port
	c.Database = strings.TrimPrefix(u.Path, "/")
	c.User, c.Password = "", ""
	if u.User != nil {
		c.User = u.User.Username()
		c.Password, _ = u.User.Password()
	}

	query := u.Query()
	c.SSLMode = query.Get("sslmode")
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	query.Del("sslmode")

	c.Options = make(map[string]string, len(query))
	for key := range query {
		c.Options[key] = query.Get(key)
	}
	return nil
}

// DSN returns the libpq key/value connection string
func (c *DatabaseConfig) DSN() string {
	parts := []string{
		"host=" + dsnValue(c.Host),
		"port=" + strconv.Itoa(c.Port),
		"user=" + dsnValue(c.User),
		"password=" + dsnValue(c.Password),
		"dbname=" + dsnValue(c.Database),
		"sslmode=" + dsnValue(c.SSLMode),
	}
	keys := make([]string, 0, len(c.Options))
	for key := range c.Options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		parts = append(parts, key+"="+dsnValue(c.Options[key]))
	}
	return strings.Join(parts, " ")
}

// Target describes where the configuration points, without the password.
func (c *DatabaseConfig) Target() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.User, c.Host, c.Port, c.Database)
}

// dsnValue quotes values libpq would otherwise split
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
