package oss

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"

	"github.com/qs3c/memorial_billing_server/config"
)

// ProofURLExpiry 签名链接有效期
const ProofURLExpiry = 15 * time.Minute

// Client 收据凭证存储
type Client struct {
	client     *oss.Client
	bucket     *oss.Bucket
	bucketName string
	cdnDomain  string
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &Client{
		client:     client,
		bucket:     bucket,
		bucketName: cfg.BucketName,
		cdnDomain:  cfg.CDNDomain,
	}, nil
}

// UploadReceipt 上传付款凭证图片，返回 proof_url
func (c *Client) UploadReceipt(userID string, data []byte, contentType string) (string, error) {
	objectKey := ReceiptObjectKey(userID, contentType, time.Now())

	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType(contentType))
	if err != nil {
		return "", fmt.Errorf("failed to upload receipt: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// GetURL 获取文件访问 URL
func (c *Client) GetURL(objectKey string) string {
	if c.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", c.cdnDomain, objectKey)
	}
	return c.bucketPrefix() + objectKey
}

// SignProofURL 凭证默认私有读，审核时换成限时签名链接。
// 非本存储的链接原样返回。
func (c *Client) SignProofURL(proofURL string) (string, error) {
	objectKey := c.ExtractObjectKey(proofURL)
	if objectKey == "" {
		return proofURL, nil
	}
	return c.GetSignedURL(objectKey, ProofURLExpiry)
}

// GetSignedURL 生成带签名的临时访问 URL
func (c *Client) GetSignedURL(objectKey string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = ProofURLExpiry
	}

	signedURL, err := c.bucket.SignURL(objectKey, oss.HTTPGet, int64(expiry/time.Second))
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}

	return signedURL, nil
}

// ExtractObjectKey 从本存储生成的 URL 中提取 object key，其他 URL 返回空
func (c *Client) ExtractObjectKey(rawURL string) string {
	prefixes := []string{c.bucketPrefix()}
	if c.cdnDomain != "" {
		prefixes = append(prefixes, fmt.Sprintf("https://%s/", c.cdnDomain))
	}

	for _, prefix := range prefixes {
		if strings.HasPrefix(rawURL, prefix) {
			return strings.TrimPrefix(rawURL, prefix)
		}
	}
	return ""
}

func (c *Client) bucketPrefix() string {
	return fmt.Sprintf("https://%s.%s/", c.bucketName, c.client.Config.Endpoint)
}

// ReceiptObjectKey receipts/<user>/<yyyymmdd>/<uuid><ext>
func ReceiptObjectKey(userID, contentType string, at time.Time) string {
	return fmt.Sprintf("receipts/%s/%s/%s%s", userID, at.Format("20060102"), uuid.NewString(), extensionFor(contentType))
}

// extensionFor 根据 Content-Type 获取扩展名
func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	default:
		return ""
	}
}
